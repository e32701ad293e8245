package asset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/teranos/strata/errors"
)

// MetadataKind tags the type of a metadata value.
type MetadataKind string

const (
	MetadataInt      MetadataKind = "int"
	MetadataFloat    MetadataKind = "float"
	MetadataText     MetadataKind = "text"
	MetadataMarkdown MetadataKind = "md"
)

// MetadataValue is one typed value recorded with a materialization or check result.
type MetadataValue struct {
	Kind  MetadataKind
	Int   int64
	Float float64
	Text  string
}

func Int(v int64) MetadataValue       { return MetadataValue{Kind: MetadataInt, Int: v} }
func Float(v float64) MetadataValue   { return MetadataValue{Kind: MetadataFloat, Float: v} }
func Text(v string) MetadataValue     { return MetadataValue{Kind: MetadataText, Text: v} }
func Markdown(v string) MetadataValue { return MetadataValue{Kind: MetadataMarkdown, Text: v} }

// Round2 returns v rounded to two decimal places as a float value.
func Round2(v float64) MetadataValue {
	return Float(math.Round(v*100) / 100)
}

// AsFloat returns numeric values as float64.
func (v MetadataValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case MetadataInt:
		return float64(v.Int), true
	case MetadataFloat:
		return v.Float, true
	}
	return 0, false
}

func (v MetadataValue) String() string {
	switch v.Kind {
	case MetadataInt:
		return fmt.Sprintf("%d", v.Int)
	case MetadataFloat:
		return fmt.Sprintf("%g", v.Float)
	default:
		return v.Text
	}
}

type metadataWire struct {
	Kind  MetadataKind    `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v MetadataValue) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.Kind {
	case MetadataInt:
		raw = v.Int
	case MetadataFloat:
		raw = v.Float
	case MetadataText, MetadataMarkdown:
		raw = v.Text
	default:
		return nil, errors.Newf("unknown metadata kind %q", v.Kind)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataWire{Kind: v.Kind, Value: b})
}

func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode metadata value")
	}
	out := MetadataValue{Kind: w.Kind}
	var err error
	switch w.Kind {
	case MetadataInt:
		err = json.Unmarshal(w.Value, &out.Int)
	case MetadataFloat:
		err = json.Unmarshal(w.Value, &out.Float)
	case MetadataText, MetadataMarkdown:
		err = json.Unmarshal(w.Value, &out.Text)
	default:
		return errors.Newf("unknown metadata kind %q", w.Kind)
	}
	if err != nil {
		return errors.Wrapf(err, "decode %s metadata value", w.Kind)
	}
	*v = out
	return nil
}

// Metadata is a bag of named values attached to a materialization.
type Metadata map[string]MetadataValue

// Keys returns metadata names sorted.
func (m Metadata) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Number returns a numeric entry as float64.
func (m Metadata) Number(name string) (float64, bool) {
	v, ok := m[name]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}
