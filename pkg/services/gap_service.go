package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/config"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
)

// topTopicsLimit bounds the most-searched list in analytics responses.
const topTopicsLimit = 10

// GapService tracks every search and surfaces knowledge gaps: queries that
// agents keep running without the KB producing an answer.
type GapService interface {
	// LogSearch appends a search to the bounded log. Persistence failures
	// are logged and swallowed; losing a log entry must never fail the
	// search that produced it.
	LogSearch(ctx context.Context, entry *models.SearchLogEntry)

	// GetGaps returns failed searches within the window grouped by
	// normalized query, most frequent first, annotated with priority.
	GetGaps(ctx context.Context, window time.Duration) ([]*models.KnowledgeGap, error)

	// GetAnalytics summarizes search activity within the window.
	GetAnalytics(ctx context.Context, window time.Duration) (*models.SearchAnalytics, error)
}

type gapService struct {
	searchLogRepo repositories.SearchLogRepository
	cfg           *config.GapsConfig
	logger        *zap.Logger
}

// NewGapService creates a new GapService.
func NewGapService(searchLogRepo repositories.SearchLogRepository, cfg *config.GapsConfig, logger *zap.Logger) GapService {
	return &gapService{
		searchLogRepo: searchLogRepo,
		cfg:           cfg,
		logger:        logger.Named("gaps"),
	}
}

var _ GapService = (*gapService)(nil)

func (s *gapService) LogSearch(ctx context.Context, entry *models.SearchLogEntry) {
	if entry == nil || strings.TrimSpace(entry.Query) == "" {
		return
	}
	if entry.NormalizedQuery == "" {
		entry.NormalizedQuery = NormalizeQuery(entry.Query)
	}

	if err := s.searchLogRepo.Append(ctx, entry, s.cfg.MaxLogEntries); err != nil {
		s.logger.Warn("Failed to log search",
			zap.String("query", entry.Query),
			zap.Error(err))
	}
}

func (s *gapService) GetGaps(ctx context.Context, window time.Duration) ([]*models.KnowledgeGap, error) {
	since := time.Now().Add(-s.effectiveWindow(window))

	gaps, err := s.searchLogRepo.FailedSearches(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge gaps: %w", err)
	}

	for _, gap := range gaps {
		gap.Priority = s.priorityFor(gap.Frequency)
	}
	return gaps, nil
}

func (s *gapService) GetAnalytics(ctx context.Context, window time.Duration) (*models.SearchAnalytics, error) {
	effective := s.effectiveWindow(window)
	since := time.Now().Add(-effective)

	total, successful, err := s.searchLogRepo.Totals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load search totals: %w", err)
	}

	topics, err := s.searchLogRepo.TopTopics(ctx, since, topTopicsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top topics: %w", err)
	}

	trend, err := s.searchLogRepo.DailyTrend(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily trend: %w", err)
	}

	analytics := &models.SearchAnalytics{
		WindowDays:    int(effective.Hours() / 24),
		TotalSearches: total,
		Successful:    successful,
		TopTopics:     topics,
		DailyTrend:    trend,
	}
	if total > 0 {
		analytics.SuccessRate = float64(successful) / float64(total)
	}
	return analytics, nil
}

func (s *gapService) effectiveWindow(window time.Duration) time.Duration {
	if window > 0 {
		return window
	}
	return time.Duration(s.cfg.DefaultWindowDays) * 24 * time.Hour
}

func (s *gapService) priorityFor(frequency int) models.GapPriority {
	switch {
	case frequency >= s.cfg.HighThreshold:
		return models.GapPriorityHigh
	case frequency >= s.cfg.MediumThreshold:
		return models.GapPriorityMedium
	default:
		return models.GapPriorityLow
	}
}

// NormalizeQuery lowercases the query, strips surrounding punctuation and
// singularizes each token, so phrasings like "Printers offline!" and
// "printer offline" group as one topic in gap analysis.
func NormalizeQuery(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	normalized := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, ".,;:!?\"'()[]{}")
		if field == "" {
			continue
		}
		normalized = append(normalized, inflection.Singular(field))
	}
	return strings.Join(normalized, " ")
}
