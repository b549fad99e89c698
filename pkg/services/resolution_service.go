package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
)

// ResolutionService applies ticket resolutions to the KB: direct counter
// updates when the suggested solution worked, judged mutations otherwise.
type ResolutionService interface {
	// Report consumes one resolution report. priorMatch is the candidate
	// the agent's suggestion came from, nil when no suggestion existed.
	// Repository write failures surface as errors; judge failures degrade
	// to a no-op decision instead.
	Report(ctx context.Context, report *models.ResolutionReport, priorMatch *models.CandidateMatch) (*models.ResolutionResult, error)
}

type resolutionService struct {
	articleRepo repositories.ArticleRepository
	judge       ResolutionJudge
	logger      *zap.Logger
}

// NewResolutionService creates a new ResolutionService.
func NewResolutionService(articleRepo repositories.ArticleRepository, judge ResolutionJudge, logger *zap.Logger) ResolutionService {
	return &resolutionService{
		articleRepo: articleRepo,
		judge:       judge,
		logger:      logger.Named("resolutions"),
	}
}

var _ ResolutionService = (*resolutionService)(nil)

func (s *resolutionService) Report(ctx context.Context, report *models.ResolutionReport, priorMatch *models.CandidateMatch) (*models.ResolutionResult, error) {
	if err := validateReport(report, priorMatch); err != nil {
		return nil, err
	}

	// A working suggestion only needs its counter bumped; the judge is
	// never consulted on this path.
	if report.Outcome == models.OutcomeWorked {
		return s.recordSuccess(ctx, report, priorMatch)
	}

	result := &models.ResolutionResult{}

	if report.Outcome == models.OutcomeFailed {
		if err := s.recordOutcome(ctx, priorMatch, false); err != nil {
			return nil, err
		}
		result.FailureRecorded = true
	}

	var candidate *models.CandidateMatch
	if report.Outcome == models.OutcomeFailed {
		candidate = priorMatch
	}

	neighbors := s.neighborArticles(ctx, report, candidate)

	decision, err := s.judge.Judge(ctx, candidate, report, neighbors)
	if err != nil {
		return nil, fmt.Errorf("failed to classify resolution: %w", err)
	}
	result.Decision = decision
	result.Degraded = decision.Degraded

	applied, err := s.apply(ctx, decision, report, candidate)
	if err != nil {
		return nil, err
	}
	result.AppliedArticle = applied

	// add_new and add_edge_case both seed their entry with one success.
	if decision.Action == models.ActionAddNew || decision.Action == models.ActionAddEdgeCase {
		result.SuccessRecorded = true
	}

	s.logger.Info("Resolution processed",
		zap.String("ticket_id", report.TicketID),
		zap.String("outcome", string(report.Outcome)),
		zap.String("action", string(decision.Action)),
		zap.Bool("degraded", result.Degraded))

	return result, nil
}

func validateReport(report *models.ResolutionReport, priorMatch *models.CandidateMatch) error {
	if report == nil {
		return fmt.Errorf("%w: nil resolution report", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(report.Problem) == "" {
		return fmt.Errorf("%w: resolution report has no problem text", apperrors.ErrInvalidInput)
	}
	if !models.IsValidReportOutcome(report.Outcome) {
		return fmt.Errorf("%w: unknown outcome %q", apperrors.ErrInvalidInput, report.Outcome)
	}
	if report.Outcome != models.OutcomeNew && priorMatch == nil {
		return fmt.Errorf("%w: outcome %q requires the prior match it refers to", apperrors.ErrInvalidInput, report.Outcome)
	}
	if report.Outcome == models.OutcomeNew && priorMatch != nil {
		return fmt.Errorf("%w: outcome new cannot carry a prior match", apperrors.ErrInvalidInput)
	}
	return nil
}

func (s *resolutionService) recordSuccess(ctx context.Context, report *models.ResolutionReport, priorMatch *models.CandidateMatch) (*models.ResolutionResult, error) {
	if err := s.recordOutcome(ctx, priorMatch, true); err != nil {
		return nil, err
	}

	applied, err := s.articleRepo.GetByID(ctx, priorMatch.Article.ID)
	if err != nil || applied == nil {
		s.logger.Warn("Failed to reload article after recording success",
			zap.String("article_id", priorMatch.Article.ID.String()),
			zap.Error(err))
		applied = priorMatch.Article
	}

	s.logger.Info("Resolution processed",
		zap.String("ticket_id", report.TicketID),
		zap.String("outcome", string(report.Outcome)),
		zap.String("article_id", priorMatch.Article.ID.String()))

	return &models.ResolutionResult{
		Decision: &models.Decision{
			Action:     models.ActionNone,
			Rationale:  "suggested solution worked; success recorded without classification",
			Confidence: 100,
		},
		AppliedArticle:  applied,
		SuccessRecorded: true,
	}, nil
}

// recordOutcome routes the increment to the edge case the suggestion came
// from when there was one, otherwise to the article itself.
func (s *resolutionService) recordOutcome(ctx context.Context, priorMatch *models.CandidateMatch, success bool) error {
	var err error
	if priorMatch.MatchedEdgeCase != nil {
		err = s.articleRepo.RecordEdgeCaseOutcome(ctx, priorMatch.Article.ID, priorMatch.MatchedEdgeCase.ID, success)
	} else {
		err = s.articleRepo.RecordOutcome(ctx, priorMatch.Article.ID, success)
	}
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// ============================================================================
// Decision Application
// ============================================================================

func (s *resolutionService) apply(ctx context.Context, decision *models.Decision, report *models.ResolutionReport, candidate *models.CandidateMatch) (*models.Article, error) {
	switch decision.Action {
	case models.ActionNone:
		return nil, nil

	case models.ActionAddNew:
		article := articleFromDraft(decision.NewArticle, report)
		if len(article.Solution) == 0 {
			return nil, fmt.Errorf("%w: resolution carries no solution steps to record", apperrors.ErrInvalidInput)
		}
		if err := s.articleRepo.Create(ctx, article); err != nil {
			return nil, fmt.Errorf("failed to create article: %w", err)
		}
		return article, nil

	case models.ActionUpdateExisting:
		target, err := s.loadTarget(ctx, *decision.TargetArticleID)
		if err != nil {
			return nil, err
		}
		steps := resolvedSteps(decision, report)
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: resolution carries no solution steps to record", apperrors.ErrInvalidInput)
		}
		if err := s.articleRepo.ReplaceSolution(ctx, target.ID, steps, decision.Rationale, ticketRef(report)); err != nil {
			return nil, fmt.Errorf("failed to update article solution: %w", err)
		}
		return s.reload(ctx, target.ID)

	case models.ActionAddEdgeCase:
		target, err := s.loadTarget(ctx, *decision.TargetArticleID)
		if err != nil {
			return nil, err
		}
		steps := resolvedSteps(decision, report)
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: resolution carries no solution steps to record", apperrors.ErrInvalidInput)
		}
		symptom := report.Problem
		if decision.NewArticle != nil && strings.TrimSpace(decision.NewArticle.Problem) != "" {
			symptom = strings.TrimSpace(decision.NewArticle.Problem)
		}
		ec := models.EdgeCase{
			Symptom:      symptom,
			Solution:     steps,
			SuccessCount: 1,
			Tags:         report.Tags,
		}
		if err := s.articleRepo.AddEdgeCase(ctx, target.ID, ec, ticketRef(report)); err != nil {
			return nil, fmt.Errorf("failed to add edge case: %w", err)
		}
		return s.reload(ctx, target.ID)

	case models.ActionMerge:
		if candidate == nil {
			return nil, fmt.Errorf("%w: merge decision without a candidate match", apperrors.ErrInvalidInput)
		}
		target, err := s.loadTarget(ctx, *decision.TargetArticleID)
		if err != nil {
			return nil, err
		}
		matched, err := s.loadTarget(ctx, candidate.Article.ID)
		if err != nil {
			return nil, err
		}
		// The older article survives; the newer duplicate folds into it.
		keep, fold := target, matched
		if matched.CreatedAt.Before(target.CreatedAt) {
			keep, fold = matched, target
		}
		if err := s.articleRepo.Merge(ctx, keep.ID, fold.ID); err != nil {
			return nil, fmt.Errorf("failed to merge articles: %w", err)
		}
		return s.reload(ctx, keep.ID)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidInput, decision.Action)
	}
}

// loadTarget fetches a targeted article and rejects missing or superseded
// targets before any write happens.
func (s *resolutionService) loadTarget(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	article, err := s.articleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load target article: %w", err)
	}
	if article == nil {
		return nil, fmt.Errorf("%w: target article %s", apperrors.ErrNotFound, id)
	}
	if article.IsSuperseded() {
		return nil, fmt.Errorf("%w: target article %s", apperrors.ErrSuperseded, id)
	}
	return article, nil
}

func (s *resolutionService) reload(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	article, err := s.articleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload article %s: %w", id, err)
	}
	return article, nil
}

// neighborArticles gives the judge duplicate-detection context without a
// model call: a plain lexical pass over the live articles, best first,
// excluding the candidate itself.
func (s *resolutionService) neighborArticles(ctx context.Context, report *models.ResolutionReport, candidate *models.CandidateMatch) []*models.Article {
	articles, err := s.articleRepo.List(ctx, false)
	if err != nil {
		s.logger.Warn("Failed to list articles for judge context", zap.Error(err))
		return nil
	}

	tokens := tokenize(report.Problem)
	type scoredArticle struct {
		article *models.Article
		score   int
	}
	ranked := make([]scoredArticle, 0, len(articles))
	for _, article := range articles {
		if candidate != nil && article.ID == candidate.Article.ID {
			continue
		}
		score := lexicalScore(tokens, article.Title, article.Problem,
			strings.Join(article.Solution, " "), tagText(article.Tags)) +
			contextBoost(article.Tags, report.Tags)
		if score == 0 {
			continue
		}
		ranked = append(ranked, scoredArticle{article: article, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	neighbors := make([]*models.Article, 0, maxNeighborContext)
	for _, r := range ranked {
		neighbors = append(neighbors, r.article)
		if len(neighbors) == maxNeighborContext {
			break
		}
	}
	return neighbors
}

// ============================================================================
// Helper Functions
// ============================================================================

// articleFromDraft builds the new article from the judge's draft, filling
// any gaps from the report. It starts with one recorded success: the
// reported resolution is the success.
func articleFromDraft(draft *models.ArticleDraft, report *models.ResolutionReport) *models.Article {
	article := &models.Article{
		SuccessCount: 1,
		SourceRefs:   []string{},
	}
	if ref := ticketRef(report); ref != "" {
		article.SourceRefs = append(article.SourceRefs, ref)
	}

	if draft != nil {
		article.Title = strings.TrimSpace(draft.Title)
		article.Problem = strings.TrimSpace(draft.Problem)
		article.Solution = draft.Solution
		article.Tags = draft.Tags
	}
	if article.Title == "" {
		article.Title = deriveTitle(report.Problem)
	}
	if article.Problem == "" {
		article.Problem = report.Problem
	}
	if len(article.Solution) == 0 {
		article.Solution = report.Solution
	}
	if len(article.Solution) == 0 && strings.TrimSpace(report.Worked) != "" {
		article.Solution = []string{strings.TrimSpace(report.Worked)}
	}
	if article.Tags.IsEmpty() {
		article.Tags = report.Tags
	}
	return article
}

// resolvedSteps prefers the agent's reported steps over the judge's draft.
func resolvedSteps(decision *models.Decision, report *models.ResolutionReport) []string {
	if len(report.Solution) > 0 {
		return report.Solution
	}
	if decision.NewArticle != nil && len(decision.NewArticle.Solution) > 0 {
		return decision.NewArticle.Solution
	}
	if worked := strings.TrimSpace(report.Worked); worked != "" {
		return []string{worked}
	}
	return nil
}

// deriveTitle shortens the problem text to a headline.
func deriveTitle(problem string) string {
	words := strings.Fields(problem)
	if len(words) > 8 {
		words = words[:8]
	}
	return truncateString(strings.Join(words, " "), 60)
}

func ticketRef(report *models.ResolutionReport) string {
	if strings.TrimSpace(report.TicketID) == "" {
		return ""
	}
	return "ticket:" + strings.TrimSpace(report.TicketID)
}
