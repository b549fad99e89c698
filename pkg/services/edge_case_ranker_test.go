package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

func TestRankEdgeCases_EmptyInputs(t *testing.T) {
	ranked := RankEdgeCases(nil, models.ContextTags{})
	assert.NotNil(t, ranked)
	assert.Len(t, ranked, 0)

	ranked = RankEdgeCases(&models.Article{}, models.ContextTags{Provider: "DealerSite"})
	assert.NotNil(t, ranked)
	assert.Len(t, ranked, 0)
}

func TestRankEdgeCases_ContextMatchOutranksSuccessRate(t *testing.T) {
	article := &models.Article{
		EdgeCases: []models.EdgeCase{
			{
				Symptom:      "Feed rejected for AutoFeedCo dealers",
				SuccessCount: 4,
				Tags:         models.ContextTags{Provider: "DealerSite"},
			},
			{
				Symptom:      "Feed rejected with mapping error",
				SuccessCount: 1,
				FailureCount: 1,
				Tags:         models.ContextTags{Provider: "DealerSite", Category: "inventory"},
			},
		},
	}

	ranked := RankEdgeCases(article, models.ContextTags{Provider: "DealerSite", Category: "inventory"})
	require.Len(t, ranked, 2)

	// Exact tag agreement wins even against a perfect success rate.
	assert.Equal(t, "Feed rejected with mapping error", ranked[0].Symptom)
	assert.Equal(t, "Feed rejected for AutoFeedCo dealers", ranked[1].Symptom)
}

func TestRankEdgeCases_SuccessRateOrdersWithinLevel(t *testing.T) {
	article := &models.Article{
		EdgeCases: []models.EdgeCase{
			{Symptom: "mostly fails", SuccessCount: 1, FailureCount: 3},
			{Symptom: "mostly works", SuccessCount: 3, FailureCount: 1},
		},
	}

	ranked := RankEdgeCases(article, models.ContextTags{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "mostly works", ranked[0].Symptom)
	assert.Equal(t, "mostly fails", ranked[1].Symptom)
}

func TestRankEdgeCases_UsageBreaksRateTies(t *testing.T) {
	article := &models.Article{
		EdgeCases: []models.EdgeCase{
			{Symptom: "rarely tried", SuccessCount: 3, FailureCount: 1},
			{Symptom: "well validated", SuccessCount: 6, FailureCount: 2},
		},
	}

	ranked := RankEdgeCases(article, models.ContextTags{})
	require.Len(t, ranked, 2)

	// Both sit at 0.75; the one attempted more often surfaces first.
	assert.Equal(t, "well validated", ranked[0].Symptom)
	assert.Equal(t, "rarely tried", ranked[1].Symptom)
}

func TestRankEdgeCases_DoesNotMutateArticle(t *testing.T) {
	article := &models.Article{
		EdgeCases: []models.EdgeCase{
			{Symptom: "first", SuccessCount: 0, FailureCount: 5},
			{Symptom: "second", SuccessCount: 5},
		},
	}

	ranked := RankEdgeCases(article, models.ContextTags{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "second", ranked[0].Symptom)

	assert.Equal(t, "first", article.EdgeCases[0].Symptom)
	assert.Equal(t, "second", article.EdgeCases[1].Symptom)
}
