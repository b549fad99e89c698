package services

import (
	"sort"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

// RankEdgeCases orders an article's edge cases for a resolution context.
// Order key: context-match level (exact > partial > none), then success
// rate, then total usage, each descending; remaining ties keep the
// article's original edge-case order. Pure computation, no I/O.
func RankEdgeCases(article *models.Article, tags models.ContextTags) []models.EdgeCase {
	if article == nil || len(article.EdgeCases) == 0 {
		return []models.EdgeCase{}
	}

	ranked := make([]models.EdgeCase, len(article.EdgeCases))
	copy(ranked, article.EdgeCases)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]

		aLevel, bLevel := a.Tags.MatchLevel(tags), b.Tags.MatchLevel(tags)
		if aLevel != bLevel {
			return aLevel > bLevel
		}
		if aRate, bRate := a.SuccessRate(), b.SuccessRate(); aRate != bRate {
			return aRate > bRate
		}
		return a.Usage() > b.Usage()
	})

	return ranked
}
