package models

import "github.com/google/uuid"

// KBAction is the fixed set of mutations the decision engine may order.
type KBAction string

const (
	// ActionAddNew creates a fresh article from the resolution report.
	ActionAddNew KBAction = "add_new"
	// ActionUpdateExisting replaces the target article's solution steps,
	// preserving the prior steps in its update history.
	ActionUpdateExisting KBAction = "update_existing"
	// ActionAddEdgeCase appends a contextual variant under the target.
	ActionAddEdgeCase KBAction = "add_edge_case"
	// ActionMerge folds a duplicate into the older article and marks the
	// newer one superseded.
	ActionMerge KBAction = "merge"
	// ActionNone leaves the KB untouched.
	ActionNone KBAction = "none"
)

// ValidKBActions contains all valid action values.
var ValidKBActions = []KBAction{
	ActionAddNew,
	ActionUpdateExisting,
	ActionAddEdgeCase,
	ActionMerge,
	ActionNone,
}

// IsValidKBAction checks if the given action is valid.
func IsValidKBAction(a KBAction) bool {
	for _, v := range ValidKBActions {
		if v == a {
			return true
		}
	}
	return false
}

// RequiresTarget reports whether the action must name an existing article.
func (a KBAction) RequiresTarget() bool {
	return a == ActionUpdateExisting || a == ActionAddEdgeCase || a == ActionMerge
}

// Decision is the engine's verdict on a resolution report: one action, an
// optional target, a human-readable rationale and a 0-100 confidence.
type Decision struct {
	Action          KBAction      `json:"action"`
	TargetArticleID *uuid.UUID    `json:"target_article_id,omitempty"`
	Rationale       string        `json:"rationale"`
	Confidence      int           `json:"confidence"`
	NewArticle      *ArticleDraft `json:"new_article,omitempty"`
	Degraded        bool          `json:"degraded,omitempty"`
}

// ConservativeDecision is the fallback emitted when classification is
// unavailable. It never mutates the KB.
func ConservativeDecision(rationale string) *Decision {
	return &Decision{
		Action:     ActionNone,
		Rationale:  rationale,
		Confidence: 0,
		Degraded:   true,
	}
}
