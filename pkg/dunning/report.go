package dunning

import (
	"log/slog"
	"sync"
	"time"
)

// Phase names a step of the pass.
type Phase string

const (
	PhaseTrials     Phase = "trials"
	PhaseIncomplete Phase = "incomplete"
	PhaseRenewals   Phase = "renewals"
	PhaseRetries    Phase = "retries"
)

// Result is what happened to one subscription.
type Result string

const (
	ResultCharged  Result = "charged"
	ResultFailed   Result = "failed"
	ResultCanceled Result = "canceled"
	ResultExpired  Result = "expired"
	ResultSkipped  Result = "skipped"
	ResultError    Result = "error"
)

// Report summarizes a pass.
type Report struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Counts      map[Phase]map[Result]int
	Escalations int

	mu sync.Mutex
}

func newReport(now time.Time) *Report {
	return &Report{StartedAt: now, Counts: make(map[Phase]map[Result]int)}
}

func (r *Report) add(p Phase, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Counts[p] == nil {
		r.Counts[p] = make(map[Result]int)
	}
	r.Counts[p][res]++
}

func (r *Report) escalated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Escalations++
}

// Count returns how many subscriptions of phase p ended with res.
func (r *Report) Count(p Phase, res Result) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counts[p][res]
}

// Total returns how many subscriptions ended with res across phases.
func (r *Report) Total(res Result) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, byResult := range r.Counts {
		n += byResult[res]
	}
	return n
}

func (r *Report) attrs() []slog.Attr {
	r.mu.Lock()
	defer r.mu.Unlock()
	attrs := []slog.Attr{slog.Duration("took", r.FinishedAt.Sub(r.StartedAt)), slog.Int("escalations", r.Escalations)}
	for _, p := range []Phase{PhaseTrials, PhaseIncomplete, PhaseRenewals, PhaseRetries} {
		var group []any
		for res, n := range r.Counts[p] {
			group = append(group, slog.Int(string(res), n))
		}
		if len(group) > 0 {
			attrs = append(attrs, slog.Group(string(p), group...))
		}
	}
	return attrs
}
