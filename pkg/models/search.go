package models

import (
	"time"

	"github.com/google/uuid"
)

// CandidateMatch is one ranked search hit: the article, its 0-100 score,
// and the single best-matching edge case when one outscored the parent's
// own problem description.
type CandidateMatch struct {
	Article         *Article  `json:"article"`
	Score           int       `json:"score"`
	Confidence      float64   `json:"confidence"`
	MatchedEdgeCase *EdgeCase `json:"matched_edge_case,omitempty"`
}

// SearchResult is the full outcome of a candidate search. Degraded is set
// when semantic scoring or query expansion was skipped because the model
// was unavailable; lexical results are still returned.
type SearchResult struct {
	Query      string            `json:"query"`
	Candidates []*CandidateMatch `json:"candidates"`
	Degraded   bool              `json:"degraded"`
}

// Found reports whether any candidate survived the score threshold.
func (r *SearchResult) Found() bool {
	return len(r.Candidates) > 0
}

// BestMatch returns the top candidate, or nil when the search found none.
func (r *SearchResult) BestMatch() *CandidateMatch {
	if len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0]
}

// SearchLogEntry records one search for gap analysis. Append-only, trimmed
// to a bounded count with the oldest entries evicted first.
type SearchLogEntry struct {
	ID              int64       `json:"id"`
	Query           string      `json:"query"`
	NormalizedQuery string      `json:"normalized_query"`
	SearchedAt      time.Time   `json:"searched_at"`
	ResultsFound    bool        `json:"results_found"`
	MatchedArticle  *uuid.UUID  `json:"matched_article_id,omitempty"`
	ResultCount     int         `json:"result_count"`
	Tags            ContextTags `json:"tags"`
}
