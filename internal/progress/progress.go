// Package progress computes deliverable completion for a KOL against a campaign quota.
//
// Compute is pure: no I/O, no clock, no shared state. The same result feeds the
// dashboard endpoints and the met_kpi / not_met_kpi broadcast filters.
package progress

import (
	"math"

	"kolpulse/internal/model"
)

// TypeProgress is the completion of one tracked deliverable type.
type TypeProgress struct {
	Type     model.DeliverableType `json:"type"`
	Required int                   `json:"required"`
	Counted  int                   `json:"counted"`
	// Completed is Counted capped at Required.
	Completed int `json:"completed"`
}

// Result is the aggregate completion of a quota.
//
// Note the zero-quota convention: when nothing is required, Percentage is 100
// and MetKPI is false. Downstream filters rely on that exact pair.
type Result struct {
	Types          []TypeProgress `json:"types"`
	TotalRequired  int            `json:"total_required"`
	TotalCompleted int            `json:"total_completed"`
	Percentage     int            `json:"percentage"`
	MetKPI         bool           `json:"met_kpi"`
}

// Compute counts POSTED/VERIFIED posts per type and folds them against quota.
//
// Types with a required count of 0 are not tracked at all. Over-delivery on one
// type never offsets a shortfall on another.
func Compute(posts []model.Post, quota model.DeliverableQuota) Result {
	counted := make(map[model.DeliverableType]int, len(model.DeliverableTypes))
	for _, p := range posts {
		if !p.Status.Counted() {
			continue
		}
		counted[p.Type]++
	}

	res := Result{Types: make([]TypeProgress, 0, len(model.DeliverableTypes))}
	for _, t := range model.DeliverableTypes {
		req := quota.Required(t)
		if req <= 0 {
			continue
		}
		n := counted[t]
		tp := TypeProgress{Type: t, Required: req, Counted: n, Completed: min(n, req)}
		res.Types = append(res.Types, tp)
		res.TotalRequired += req
		res.TotalCompleted += tp.Completed
	}

	if res.TotalRequired == 0 {
		res.Percentage = 100
		return res
	}
	res.Percentage = int(math.Round(float64(res.TotalCompleted) / float64(res.TotalRequired) * 100))
	res.MetKPI = res.Percentage >= 100
	return res
}

// MatchesKPI reports whether r satisfies the requested KPI polarity.
func (r Result) MatchesKPI(wantMet bool) bool { return r.MetKPI == wantMet }
