package freshness

import "time"

// Entry is one row of a freshness report.
type Entry struct {
	Key                string
	Status             Status
	Policy             *Policy
	LastMaterializedAt *time.Time
	Age                time.Duration
}

// KeyedSubject is a Subject that also names itself.
type KeyedSubject interface {
	Subject
	Key() string
}

// Report evaluates every subject at the same instant, keeping input order.
func Report[S KeyedSubject](subjects []S, now time.Time) []Entry {
	out := make([]Entry, 0, len(subjects))
	for _, s := range subjects {
		e := Entry{Key: s.Key(), Status: Evaluate(s, now), Policy: s.FreshnessPolicy()}
		if last, ok := s.LastMaterializedAt(); ok {
			e.LastMaterializedAt = &last
			e.Age = now.Sub(last)
		}
		out = append(out, e)
	}
	return out
}

// Worst returns the worst status in a report; an empty report is FRESH.
func Worst(entries []Entry) Status {
	worst := StatusFresh
	for _, e := range entries {
		if Worse(e.Status, worst) {
			worst = e.Status
		}
	}
	return worst
}
