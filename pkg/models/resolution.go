package models

// ReportOutcome describes what happened with the previously suggested
// solution, as reported by the agent who worked the ticket.
type ReportOutcome string

const (
	// OutcomeWorked: the suggested solution resolved the ticket.
	OutcomeWorked ReportOutcome = "worked"
	// OutcomeFailed: a solution was suggested but did not resolve it.
	OutcomeFailed ReportOutcome = "failed"
	// OutcomeNew: no suggestion existed; the agent resolved it from scratch.
	OutcomeNew ReportOutcome = "new"
)

// ValidReportOutcomes contains all valid outcome values.
var ValidReportOutcomes = []ReportOutcome{OutcomeWorked, OutcomeFailed, OutcomeNew}

// IsValidReportOutcome checks if the given outcome is valid.
func IsValidReportOutcome(o ReportOutcome) bool {
	for _, v := range ValidReportOutcomes {
		if v == o {
			return true
		}
	}
	return false
}

// ResolutionReport is the ephemeral record of what an agent tried and what
// ultimately worked for one ticket. It is consumed once by the decision
// path and never persisted as its own entity.
type ResolutionReport struct {
	TicketID string        `json:"ticket_id"`
	Problem  string        `json:"problem"`
	Tried    string        `json:"tried,omitempty"`
	Worked   string        `json:"worked,omitempty"`
	Solution []string      `json:"solution,omitempty"`
	Tags     ContextTags   `json:"tags"`
	Outcome  ReportOutcome `json:"outcome"`
}

// ResolutionResult reports what a resolution report did to the KB.
type ResolutionResult struct {
	Decision        *Decision `json:"decision"`
	AppliedArticle  *Article  `json:"applied_article,omitempty"`
	SuccessRecorded bool      `json:"success_recorded"`
	FailureRecorded bool      `json:"failure_recorded"`
	Degraded        bool      `json:"degraded"`
}
