// Package query turns listing requests into bounded, parameterized plans that
// every record store engine can execute.
package query

import (
	"math"

	"DropTracker/internal/domain"
)

const (
	// DefaultLimit applies when the caller gives no positive limit.
	DefaultLimit = 10
	// MaxLimit bounds the response size of a single page.
	MaxLimit = 100
	// AllStages disables the stage filter.
	AllStages = "all"
	// MaxOffset keeps offset+limit inside a signed 64-bit skip for every engine.
	MaxOffset = math.MaxInt64 - MaxLimit
)

// ListPlan is a validated listing request for one collection. Items and
// Count must be evaluated with the same StageFilter.
type ListPlan struct {
	Collection  domain.Collection
	StageFilter *domain.Stage
	Page        int
	Limit       int
	Offset      uint64
}

// BuildListPlan normalizes pagination input and validates the stage filter
// against the collection workflow.
func BuildListPlan(c domain.Collection, stage string, page, limit int) (ListPlan, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	plan := ListPlan{
		Collection: c,
		Page:       page,
		Limit:      limit,
		Offset:     offsetFor(page, limit),
	}

	if stage == "" || stage == AllStages {
		return plan, nil
	}

	s, err := c.Workflow.ParseStage(stage)
	if err != nil {
		return ListPlan{}, err
	}
	plan.StageFilter = &s
	return plan, nil
}

// offsetFor returns (page-1)*limit, saturating at MaxOffset. No store holds
// that many rows, so a saturated offset still yields an empty page.
func offsetFor(page, limit int) uint64 {
	skipped := uint64(page - 1)
	if skipped > MaxOffset/uint64(limit) {
		return MaxOffset
	}
	return skipped * uint64(limit)
}

// Result assembles a page from the two sub-fetches of the plan.
func (p ListPlan) Result(items []domain.TrackedRecord, total int64) domain.Page {
	if items == nil {
		items = []domain.TrackedRecord{}
	}
	return domain.Page{
		Items: items,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: domain.PageCount(total, p.Limit),
	}
}
