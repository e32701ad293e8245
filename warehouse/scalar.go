package warehouse

import (
	"context"
	"strconv"
	"time"

	"github.com/teranos/strata/errors"
)

// First returns the first column of the first row, or nil when there are no rows.
func First(rows []Row) any {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	return rows[0][0]
}

// ToFloat converts a scanned value to float64. NULL is zero.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		if x == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse numeric %q", x)
		}
		return f, nil
	case []byte:
		return ToFloat(string(x))
	}
	return 0, errors.Newf("unsupported numeric type %T", v)
}

// ToInt converts a scanned value to int64, truncating fractions. NULL is zero.
func ToInt(v any) (int64, error) {
	if i, ok := v.(int64); ok {
		return i, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// ToTime converts a scanned date/timestamp value. NULL reports ok=false.
func ToTime(v any) (time.Time, bool, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return x, true, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true, nil
			}
		}
		return time.Time{}, false, errors.Newf("unrecognised timestamp %q", x)
	}
	return time.Time{}, false, errors.Newf("unsupported timestamp type %T", v)
}

// QueryFloat runs query and returns its first value as float64. No rows and
// NULL both yield zero.
func QueryFloat(ctx context.Context, q Querier, query string) (float64, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return ToFloat(First(rows))
}

// QueryInt runs query and returns its first value as int64. No rows and NULL
// both yield zero.
func QueryInt(ctx context.Context, q Querier, query string) (int64, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return ToInt(First(rows))
}
