package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/cache"
	"github.com/dealerdesk/kb-engine/pkg/config"
	"github.com/dealerdesk/kb-engine/pkg/llm"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/retry"
)

// maxNeighborContext bounds how many similar articles the judge sees beyond
// the candidate itself.
const maxNeighborContext = 3

// ResolutionJudge classifies what a resolution report should do to the KB.
// The production implementation delegates to the LLM; tests substitute a
// deterministic stub.
type ResolutionJudge interface {
	// Judge returns the action for the report. candidate is the prior match
	// the suggestion came from (nil when the problem was fresh) and
	// neighbors are other similar articles, used for duplicate detection.
	// A failed classification yields the conservative no-op decision, not
	// an error; errors are reserved for invalid input.
	Judge(ctx context.Context, candidate *models.CandidateMatch, report *models.ResolutionReport, neighbors []*models.Article) (*models.Decision, error)
}

type decisionService struct {
	llmFactory     llm.LLMClientFactory
	cacheStore     cache.Store
	circuitBreaker *llm.CircuitBreaker
	cfg            *config.Config
	logger         *zap.Logger
}

// NewDecisionService creates the LLM-backed ResolutionJudge.
func NewDecisionService(
	llmFactory llm.LLMClientFactory,
	cacheStore cache.Store,
	circuitBreaker *llm.CircuitBreaker,
	cfg *config.Config,
	logger *zap.Logger,
) ResolutionJudge {
	return &decisionService{
		llmFactory:     llmFactory,
		cacheStore:     cacheStore,
		circuitBreaker: circuitBreaker,
		cfg:            cfg,
		logger:         logger.Named("decisions"),
	}
}

var _ ResolutionJudge = (*decisionService)(nil)

func (s *decisionService) Judge(ctx context.Context, candidate *models.CandidateMatch, report *models.ResolutionReport, neighbors []*models.Article) (*models.Decision, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: nil resolution report", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(report.Problem) == "" {
		return nil, fmt.Errorf("%w: resolution report has no problem text", apperrors.ErrInvalidInput)
	}

	// Only validated decisions are cached. Failures fall through to the
	// conservative no-op so a broken model call can never mutate the KB.
	decision, hit, err := cache.GetOrCompute(ctx, s.cacheStore, s.logger,
		cache.NamespaceDecision, decisionCacheKey(candidate, report), s.cfg.Cache.DecisionTTL,
		func(ctx context.Context) (models.Decision, error) {
			return s.classify(ctx, candidate, report, neighbors)
		})
	if err != nil {
		s.logger.Warn("Classification unavailable, falling back to no-op decision",
			zap.String("ticket_id", report.TicketID),
			zap.Error(err))
		return models.ConservativeDecision(fmt.Sprintf("classification unavailable: %v", err)), nil
	}

	if hit {
		s.logger.Debug("Decision served from cache",
			zap.String("ticket_id", report.TicketID),
			zap.String("action", string(decision.Action)))
	}
	return &decision, nil
}

func (s *decisionService) classify(ctx context.Context, candidate *models.CandidateMatch, report *models.ResolutionReport, neighbors []*models.Article) (models.Decision, error) {
	var zero models.Decision

	allowed, err := s.circuitBreaker.Allow()
	if !allowed {
		s.logger.Error("Circuit breaker prevented LLM call",
			zap.String("ticket_id", report.TicketID),
			zap.String("circuit_state", s.circuitBreaker.State().String()),
			zap.Error(err))
		return zero, fmt.Errorf("circuit breaker open: %w", err)
	}

	client, err := s.llmFactory.CreateChatClient()
	if err != nil {
		return zero, fmt.Errorf("create LLM client: %w", err)
	}

	systemMsg := s.buildSystemMessage()
	prompt := s.buildPrompt(candidate, report, neighbors)

	retryConfig := &retry.Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	var llmResult *llm.GenerateResponseResult
	err = retry.DoIfRetryable(ctx, retryConfig, func() error {
		var callErr error
		llmResult, callErr = client.GenerateResponse(ctx, prompt, systemMsg, s.cfg.AI.Temperature)
		if callErr != nil {
			classified := llm.ClassifyError(callErr)
			if classified.Retryable {
				s.logger.Warn("LLM call failed, retrying",
					zap.String("error_type", string(classified.Type)),
					zap.Error(callErr))
			} else {
				s.logger.Error("LLM call failed with non-retryable error",
					zap.String("error_type", string(classified.Type)),
					zap.Error(callErr))
			}
			return callErr
		}
		return nil
	})
	if err != nil {
		s.circuitBreaker.RecordFailure()
		return zero, fmt.Errorf("LLM call failed: %w", err)
	}
	s.circuitBreaker.RecordSuccess()

	response, err := llm.ParseJSONResponse[decisionResponse](llmResult.Content)
	if err != nil {
		s.logger.Error("Failed to parse decision response",
			zap.String("ticket_id", report.TicketID),
			zap.String("response_preview", truncateString(llmResult.Content, 200)),
			zap.Error(err))
		return zero, fmt.Errorf("parse decision response: %w", err)
	}

	decision, err := s.toDecision(&response, candidate, neighbors)
	if err != nil {
		return zero, err
	}

	s.logger.Debug("Resolution classified",
		zap.String("ticket_id", report.TicketID),
		zap.String("action", string(decision.Action)),
		zap.Int("confidence", decision.Confidence))

	return *decision, nil
}

// decisionResponse is the raw judgement returned by the model.
type decisionResponse struct {
	Action          string               `json:"action"`
	TargetArticleID string               `json:"target_article_id,omitempty"`
	Rationale       string               `json:"rationale"`
	Confidence      int                  `json:"confidence"`
	NewArticle      *models.ArticleDraft `json:"new_article,omitempty"`
}

// toDecision validates the raw judgement. Target-bearing actions must name
// an article the model was actually shown; anything else is rejected so a
// hallucinated ID can never reach the repository.
func (s *decisionService) toDecision(resp *decisionResponse, candidate *models.CandidateMatch, neighbors []*models.Article) (*models.Decision, error) {
	action := models.KBAction(strings.ToLower(strings.TrimSpace(resp.Action)))
	if !models.IsValidKBAction(action) {
		return nil, fmt.Errorf("model returned unknown action %q", resp.Action)
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	decision := &models.Decision{
		Action:     action,
		Rationale:  strings.TrimSpace(resp.Rationale),
		Confidence: confidence,
		NewArticle: resp.NewArticle,
	}

	var target *uuid.UUID
	if raw := strings.TrimSpace(resp.TargetArticleID); raw != "" && !strings.EqualFold(raw, "null") {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("model returned malformed target article ID %q: %w", raw, err)
		}
		target = &id
	}

	if action.RequiresTarget() {
		if target == nil {
			if candidate == nil {
				return nil, fmt.Errorf("action %s requires a target article but none was returned", action)
			}
			id := candidate.Article.ID
			target = &id
			s.logger.Warn("Model omitted target article, defaulting to candidate",
				zap.String("action", string(action)),
				zap.String("article_id", id.String()))
		}
		if !knownArticle(*target, candidate, neighbors) {
			return nil, fmt.Errorf("model returned target article %s not present in its context", *target)
		}
		if action == models.ActionMerge {
			if candidate == nil {
				return nil, fmt.Errorf("merge requires a candidate match")
			}
			if *target == candidate.Article.ID {
				return nil, fmt.Errorf("merge target must differ from the candidate article")
			}
		}
		decision.TargetArticleID = target
	}

	return decision, nil
}

func knownArticle(id uuid.UUID, candidate *models.CandidateMatch, neighbors []*models.Article) bool {
	if candidate != nil && candidate.Article.ID == id {
		return true
	}
	for _, n := range neighbors {
		if n != nil && n.ID == id {
			return true
		}
	}
	return false
}

// decisionCacheKey renders the judgement input canonically so identical
// resolution reports hit the same cache entry.
func decisionCacheKey(candidate *models.CandidateMatch, report *models.ResolutionReport) string {
	candidateID := ""
	if candidate != nil {
		candidateID = candidate.Article.ID.String()
	}
	parts := []string{
		candidateID,
		report.Problem,
		report.Tried,
		report.Worked,
		string(report.Outcome),
		strings.Join(report.Solution, "\n"),
	}
	return strings.Join(parts, "\x1f")
}

func (s *decisionService) buildSystemMessage() string {
	return `You maintain a support knowledge base built from ticket resolutions. Given a resolution report and the article it was matched against, classify what the knowledge base should do.

Actions:
- add_new: the resolution describes a genuinely new failure mode with no matching article.
- update_existing: the matched article covers the same root cause but the reported steps are materially better or more complete; its solution should be replaced.
- add_edge_case: the resolution is a contextual variant of the matched article, sharing its root cause but with a distinguishable symptom, and deserves its own entry under it.
- merge: the resolution reveals that two of the listed articles describe the same root cause; the newer duplicate should be folded into the older one.
- none: the resolution adds no generalizable knowledge (one-off, customer-specific noise).

Be conservative: prefer none over a speculative mutation. Never invent article IDs.`
}

func (s *decisionService) buildPrompt(candidate *models.CandidateMatch, report *models.ResolutionReport, neighbors []*models.Article) string {
	var sb strings.Builder

	sb.WriteString("# Resolution Classification\n\n")

	if candidate != nil {
		article := candidate.Article
		sb.WriteString("## Matched Article\n\n")
		sb.WriteString(fmt.Sprintf("- ID: %s\n", article.ID))
		sb.WriteString(fmt.Sprintf("- Title: %s\n", article.Title))
		sb.WriteString(fmt.Sprintf("- Problem: %s\n", article.Problem))
		sb.WriteString("- Solution:\n")
		for i, step := range article.Solution {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
		sb.WriteString(fmt.Sprintf("- Track record: %d worked, %d failed (%.0f%% success)\n",
			article.SuccessCount, article.FailureCount, article.SuccessRate()*100))
		if !article.Tags.IsEmpty() {
			sb.WriteString(fmt.Sprintf("- Tags: %s\n", formatTags(article.Tags)))
		}
		if len(article.EdgeCases) > 0 {
			sb.WriteString("- Known edge cases:\n")
			for i := range article.EdgeCases {
				sb.WriteString(fmt.Sprintf("  - %s\n", article.EdgeCases[i].Symptom))
			}
		}
		if candidate.MatchedEdgeCase != nil {
			sb.WriteString(fmt.Sprintf("- The search matched edge case: %s\n", candidate.MatchedEdgeCase.Symptom))
		}
		sb.WriteString(fmt.Sprintf("- Match score: %d/100\n", candidate.Score))
		sb.WriteString("\n")
	} else {
		sb.WriteString("## Matched Article\n\nNone. No existing article matched this problem.\n\n")
	}

	others := make([]*models.Article, 0, maxNeighborContext)
	for _, n := range neighbors {
		if n == nil {
			continue
		}
		if candidate != nil && n.ID == candidate.Article.ID {
			continue
		}
		others = append(others, n)
		if len(others) == maxNeighborContext {
			break
		}
	}
	if len(others) > 0 {
		sb.WriteString("## Other Similar Articles\n\n")
		for _, n := range others {
			sb.WriteString(fmt.Sprintf("- %s: %s (%s)\n", n.ID, n.Title, truncateString(n.Problem, 160)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Resolution Report\n\n")
	sb.WriteString(fmt.Sprintf("- Ticket: %s\n", report.TicketID))
	sb.WriteString(fmt.Sprintf("- Problem: %s\n", report.Problem))
	sb.WriteString(fmt.Sprintf("- Suggested solution outcome: %s\n", report.Outcome))
	if report.Tried != "" {
		sb.WriteString(fmt.Sprintf("- Tried: %s\n", report.Tried))
	}
	if report.Worked != "" {
		sb.WriteString(fmt.Sprintf("- What worked: %s\n", report.Worked))
	}
	if len(report.Solution) > 0 {
		sb.WriteString("- Resolution steps:\n")
		for i, step := range report.Solution {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
	}
	if !report.Tags.IsEmpty() {
		sb.WriteString(fmt.Sprintf("- Tags: %s\n", formatTags(report.Tags)))
	}

	sb.WriteString("\n## Instructions\n\n")
	sb.WriteString("Classify this resolution into exactly one action. ")
	sb.WriteString("For update_existing, add_edge_case and merge, target_article_id must be one of the article IDs listed above. ")
	sb.WriteString("For add_new, propose the article under new_article.\n\n")
	sb.WriteString("Return JSON:\n")
	sb.WriteString(`{
  "action": "add_new|update_existing|add_edge_case|merge|none",
  "target_article_id": "uuid or null",
  "rationale": "one or two sentences",
  "confidence": 0-100,
  "new_article": {
    "title": "...",
    "problem": "...",
    "solution": ["step 1", "step 2"],
    "tags": {"syndicator": "", "provider": "", "category": ""}
  }
}`)
	sb.WriteString("\n")

	return sb.String()
}

// ============================================================================
// Helper Functions
// ============================================================================

func formatTags(tags models.ContextTags) string {
	parts := make([]string, 0, 3)
	if tags.Syndicator != "" {
		parts = append(parts, "syndicator="+tags.Syndicator)
	}
	if tags.Provider != "" {
		parts = append(parts, "provider="+tags.Provider)
	}
	if tags.Category != "" {
		parts = append(parts, "category="+tags.Category)
	}
	return strings.Join(parts, ", ")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
