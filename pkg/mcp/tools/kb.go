// Package tools provides MCP tool implementations for kb-engine.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// maxSearchResults caps top_k so a tool call cannot request the whole KB.
const maxSearchResults = 20

// KBToolDeps contains dependencies for knowledge-base tools.
type KBToolDeps struct {
	MatcherService services.MatcherService
	GapService     services.GapService
	Logger         *zap.Logger
}

// RegisterKBTools registers the knowledge-base MCP tools.
func RegisterKBTools(s *server.MCPServer, deps *KBToolDeps) {
	registerSearchKBTool(s, deps)
	registerKnowledgeGapsTool(s, deps)
	registerSearchAnalyticsTool(s, deps)
}

// registerSearchKBTool adds the search_kb tool for finding candidate articles.
func registerSearchKBTool(s *server.MCPServer, deps *KBToolDeps) {
	tool := mcp.NewTool(
		"search_kb",
		mcp.WithDescription(
			"Search the support knowledge base for articles matching a problem description. "+
				"Returns ranked candidates with a 0-100 score, proven solution steps, and the track record "+
				"(success rate, usage count) of each article. "+
				"When a candidate carries a matched_edge_case, that variant fits this context better than the "+
				"parent article; try its solution first. "+
				"Pass syndicator, provider, or category when known so context-specific articles rank higher. "+
				"Keep the returned article_id (and edge_case_id) to report the outcome after working the ticket. "+
				"Example: search_kb(problem='printer shows offline after driver update', provider='DealerSite')",
		),
		mcp.WithString(
			"problem",
			mcp.Required(),
			mcp.Description("The problem text to match, as reported on the ticket"),
		),
		mcp.WithString(
			"syndicator",
			mcp.Description("Optional - syndicator the ticket belongs to"),
		),
		mcp.WithString(
			"provider",
			mcp.Description("Optional - provider involved in the ticket"),
		),
		mcp.WithString(
			"category",
			mcp.Description("Optional - ticket category (e.g., 'hardware', 'feeds', 'billing')"),
		),
		mcp.WithNumber(
			"top_k",
			mcp.Description("Maximum number of candidates to return (default 5, max 20)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		problem, err := req.RequireString("problem")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		problem = trimString(problem)
		if problem == "" {
			return NewErrorResult("invalid_parameters", "parameter 'problem' cannot be empty"), nil
		}

		tags := models.ContextTags{
			Syndicator: trimString(getOptionalString(req, "syndicator")),
			Provider:   trimString(getOptionalString(req, "provider")),
			Category:   trimString(getOptionalString(req, "category")),
		}

		topK := 0
		if topKVal, ok := getOptionalFloat(req, "top_k"); ok {
			topK = int(topKVal)
		}
		if topK > maxSearchResults {
			topK = maxSearchResults
		}

		result, err := deps.MatcherService.FindCandidates(ctx, problem, tags, topK)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				return NewErrorResult("invalid_parameters", err.Error()), nil
			}
			return nil, err
		}

		jsonResult, err := json.Marshal(toSearchKBResponse(result))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// registerKnowledgeGapsTool adds the get_knowledge_gaps tool for surfacing
// repeatedly unanswered queries.
func registerKnowledgeGapsTool(s *server.MCPServer, deps *KBToolDeps) {
	tool := mcp.NewTool(
		"get_knowledge_gaps",
		mcp.WithDescription(
			"List problems agents keep searching for that the knowledge base cannot answer, "+
				"grouped by normalized query and ordered by frequency. "+
				"High priority means the query failed three or more times within the window. "+
				"Use this to decide which articles to author next.",
		),
		mcp.WithNumber(
			"window_days",
			mcp.Description("Analysis window in days (defaults to the configured window, normally 30)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		window, errResult := windowFromRequest(req)
		if errResult != nil {
			return errResult, nil
		}

		gaps, err := deps.GapService.GetGaps(ctx, window)
		if err != nil {
			return nil, err
		}

		jsonResult, err := json.Marshal(knowledgeGapsResponse{Gaps: gaps, Count: len(gaps)})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// registerSearchAnalyticsTool adds the get_search_analytics tool.
func registerSearchAnalyticsTool(s *server.MCPServer, deps *KBToolDeps) {
	tool := mcp.NewTool(
		"get_search_analytics",
		mcp.WithDescription(
			"Summarize knowledge-base search activity within a window: total searches, "+
				"success rate, most searched topics, and a per-day trend.",
		),
		mcp.WithNumber(
			"window_days",
			mcp.Description("Analysis window in days (defaults to the configured window, normally 30)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		window, errResult := windowFromRequest(req)
		if errResult != nil {
			return errResult, nil
		}

		analytics, err := deps.GapService.GetAnalytics(ctx, window)
		if err != nil {
			return nil, err
		}

		jsonResult, err := json.Marshal(analytics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// windowFromRequest parses the optional window_days argument. Zero means
// the caller gave none and the gap service applies its configured default.
func windowFromRequest(req mcp.CallToolRequest) (time.Duration, *mcp.CallToolResult) {
	days, ok := getOptionalFloat(req, "window_days")
	if !ok {
		return 0, nil
	}
	if days <= 0 || days != math.Trunc(days) {
		return 0, NewErrorResult("invalid_parameters", "window_days must be a positive whole number")
	}
	return time.Duration(int(days)) * 24 * time.Hour, nil
}

// searchKBResponse is the response format for the search_kb tool.
type searchKBResponse struct {
	Query      string        `json:"query"`
	Found      bool          `json:"found"`
	Degraded   bool          `json:"degraded,omitempty"`
	Candidates []kbCandidate `json:"candidates"`
}

// kbCandidate is one ranked article in a search_kb response.
type kbCandidate struct {
	ArticleID       string             `json:"article_id"`
	Title           string             `json:"title"`
	Problem         string             `json:"problem"`
	Solution        []string           `json:"solution"`
	Score           int                `json:"score"`
	Confidence      float64            `json:"confidence"`
	SuccessRate     float64            `json:"success_rate"`
	UsageCount      int                `json:"usage_count"`
	Tags            models.ContextTags `json:"tags"`
	MatchedEdgeCase *kbEdgeCase        `json:"matched_edge_case,omitempty"`
}

// kbEdgeCase is the edge-case variant that outscored its parent article.
type kbEdgeCase struct {
	EdgeCaseID  string   `json:"edge_case_id"`
	Symptom     string   `json:"symptom"`
	Solution    []string `json:"solution"`
	SuccessRate float64  `json:"success_rate"`
}

// knowledgeGapsResponse is the response format for get_knowledge_gaps.
type knowledgeGapsResponse struct {
	Gaps  []*models.KnowledgeGap `json:"gaps"`
	Count int                    `json:"count"`
}

func toSearchKBResponse(result *models.SearchResult) searchKBResponse {
	candidates := make([]kbCandidate, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		candidate := kbCandidate{
			ArticleID:   c.Article.ID.String(),
			Title:       c.Article.Title,
			Problem:     c.Article.Problem,
			Solution:    c.Article.Solution,
			Score:       c.Score,
			Confidence:  c.Confidence,
			SuccessRate: c.Article.SuccessRate(),
			UsageCount:  c.Article.Usage(),
			Tags:        c.Article.Tags,
		}
		if c.MatchedEdgeCase != nil {
			candidate.MatchedEdgeCase = &kbEdgeCase{
				EdgeCaseID:  c.MatchedEdgeCase.ID.String(),
				Symptom:     c.MatchedEdgeCase.Symptom,
				Solution:    c.MatchedEdgeCase.Solution,
				SuccessRate: c.MatchedEdgeCase.SuccessRate(),
			}
		}
		candidates = append(candidates, candidate)
	}

	return searchKBResponse{
		Query:      result.Query,
		Found:      result.Found(),
		Degraded:   result.Degraded,
		Candidates: candidates,
	}
}
