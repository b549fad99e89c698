package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContextTags classify where a problem occurred. Each field is optional and
// matched exactly (case-insensitive) during ranking.
type ContextTags struct {
	Syndicator string `json:"syndicator,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Category   string `json:"category,omitempty"`
}

// TagMatchLevel orders context-tag agreement: exact > partial > none.
type TagMatchLevel int

const (
	TagMatchNone TagMatchLevel = iota
	TagMatchPartial
	TagMatchExact
)

// MatchLevel compares the receiver (the entity's tags) against query tags.
// A field counts as matching when both sides are non-empty and equal,
// ignoring case. Exact means every non-empty query field matched; partial
// means at least one did.
func (t ContextTags) MatchLevel(query ContextTags) TagMatchLevel {
	provided := 0
	matched := 0
	for _, pair := range [][2]string{
		{t.Syndicator, query.Syndicator},
		{t.Provider, query.Provider},
		{t.Category, query.Category},
	} {
		if pair[1] == "" {
			continue
		}
		provided++
		if pair[0] != "" && strings.EqualFold(pair[0], pair[1]) {
			matched++
		}
	}
	switch {
	case provided > 0 && matched == provided:
		return TagMatchExact
	case matched > 0:
		return TagMatchPartial
	default:
		return TagMatchNone
	}
}

// IsEmpty reports whether no tag field is set.
func (t ContextTags) IsEmpty() bool {
	return t.Syndicator == "" && t.Provider == "" && t.Category == ""
}

// SolutionRevision preserves the solution steps an UPDATE_EXISTING decision
// replaced, so article history is never lost.
type SolutionRevision struct {
	ReplacedAt time.Time `json:"replaced_at"`
	Steps      []string  `json:"steps"`
	Reason     string    `json:"reason,omitempty"`
}

// EdgeCase is a contextual variant of its parent article's problem: same
// root cause, distinguishable symptom, its own solution and track record.
// Edge cases never exist outside an article and are only created by an
// add_edge_case decision.
type EdgeCase struct {
	ID           uuid.UUID   `json:"id"`
	Symptom      string      `json:"symptom"`
	Solution     []string    `json:"solution"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	Tags         ContextTags `json:"tags"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SuccessRate derives the edge case's historical success ratio from its
// counters. Zero when nothing has been attempted yet.
func (e *EdgeCase) SuccessRate() float64 {
	return successRate(e.SuccessCount, e.FailureCount)
}

// Usage is the total number of recorded attempts.
func (e *EdgeCase) Usage() int {
	return e.SuccessCount + e.FailureCount
}

// Article is a persisted KB entry describing one problem and its accepted
// solution. It is the aggregate root for its edge cases: every edge-case
// mutation goes through the owning article's update path.
type Article struct {
	ID            uuid.UUID          `json:"id"`
	Title         string             `json:"title"`
	Problem       string             `json:"problem"`
	Solution      []string           `json:"solution"`
	Tags          ContextTags        `json:"tags"`
	SuccessCount  int                `json:"success_count"`
	FailureCount  int                `json:"failure_count"`
	EdgeCases     []EdgeCase         `json:"edge_cases,omitempty"`
	UpdateHistory []SolutionRevision `json:"update_history,omitempty"`
	SourceRefs    []string           `json:"source_refs,omitempty"`
	SupersededBy  *uuid.UUID         `json:"superseded_by,omitempty"`
	SupersededAt  *time.Time         `json:"superseded_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// SuccessRate derives the article's historical success ratio from its
// counters. The value is never persisted and lies in [0,1].
func (a *Article) SuccessRate() float64 {
	return successRate(a.SuccessCount, a.FailureCount)
}

// Usage is the total number of recorded attempts.
func (a *Article) Usage() int {
	return a.SuccessCount + a.FailureCount
}

// IsSuperseded reports whether the article was folded into another by a
// merge decision. Superseded articles are excluded from matching.
func (a *Article) IsSuperseded() bool {
	return a.SupersededBy != nil
}

// EdgeCaseByID returns the edge case with the given ID, or nil.
func (a *Article) EdgeCaseByID(id uuid.UUID) *EdgeCase {
	for i := range a.EdgeCases {
		if a.EdgeCases[i].ID == id {
			return &a.EdgeCases[i]
		}
	}
	return nil
}

// ArticleDraft carries the fields a judge proposes for a new article or
// edge case. The resolution service fills any gaps from the report before
// persisting.
type ArticleDraft struct {
	Title    string      `json:"title"`
	Problem  string      `json:"problem"`
	Solution []string    `json:"solution"`
	Tags     ContextTags `json:"tags"`
}

func successRate(success, failure int) float64 {
	total := success + failure
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}
