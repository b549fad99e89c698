package services

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/cache"
	"github.com/dealerdesk/kb-engine/pkg/config"
	"github.com/dealerdesk/kb-engine/pkg/llm"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
)

// Per-token lexical points and context boosts. Token points reward hits in
// the most identifying fields; context boosts reward exact tag agreement,
// with category weighted highest because it narrows the problem space most.
const (
	titleTokenPoints    = 10
	problemTokenPoints  = 5
	solutionTokenPoints = 3
	tagTokenPoints      = 3

	syndicatorBoost = 10
	providerBoost   = 10
	categoryBoost   = 15

	maxUsageBoost     = 5
	maxExpansionTerms = 6
)

const expansionSystemMessage = "You expand support-ticket search queries. Respond with JSON only."

type expansionResponse struct {
	Terms []string `json:"terms"`
}

// MatcherService finds KB articles whose problem (or one of their edge-case
// symptoms) matches a free-text problem description.
type MatcherService interface {
	// FindCandidates scores every live article against the problem text and
	// returns the topK survivors, best first. Model failures degrade to
	// lexical-only scoring; they never fail the search.
	FindCandidates(ctx context.Context, problemText string, tags models.ContextTags, topK int) (*models.SearchResult, error)
}

type matcherService struct {
	articleRepo repositories.ArticleRepository
	gapService  GapService
	llmFactory  llm.LLMClientFactory
	cacheStore  cache.Store
	workerPool  *llm.WorkerPool
	cfg         *config.Config
	logger      *zap.Logger
}

// NewMatcherService creates a new MatcherService.
func NewMatcherService(
	articleRepo repositories.ArticleRepository,
	gapService GapService,
	llmFactory llm.LLMClientFactory,
	cacheStore cache.Store,
	workerPool *llm.WorkerPool,
	cfg *config.Config,
	logger *zap.Logger,
) MatcherService {
	return &matcherService{
		articleRepo: articleRepo,
		gapService:  gapService,
		llmFactory:  llmFactory,
		cacheStore:  cacheStore,
		workerPool:  workerPool,
		cfg:         cfg,
		logger:      logger.Named("matcher"),
	}
}

var _ MatcherService = (*matcherService)(nil)

func (s *matcherService) FindCandidates(ctx context.Context, problemText string, tags models.ContextTags, topK int) (*models.SearchResult, error) {
	query := strings.TrimSpace(problemText)
	if query == "" {
		return nil, fmt.Errorf("%w: empty problem text", apperrors.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.cfg.Search.DefaultTopK
	}

	articles, err := s.articleRepo.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles for matching: %w", err)
	}

	result := &models.SearchResult{Query: query}

	tokens := tokenize(query)
	if expansion := s.expandQuery(ctx, query, result); len(expansion) > 0 {
		tokens = mergeTokens(tokens, expansion)
	}

	embeddings := s.embedTexts(ctx, query, articles, result)
	var queryVec []float32
	if embeddings != nil {
		queryVec = embeddings[query]
	}

	now := time.Now()
	candidates := make([]*models.CandidateMatch, 0, len(articles))
	for _, article := range articles {
		match := s.scoreArticle(article, tokens, tags, queryVec, embeddings, now)
		if match.Score >= s.cfg.Search.MinScore {
			candidates = append(candidates, match)
		}
	}

	sortCandidates(candidates)

	resultCount := len(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	result.Candidates = candidates

	entry := &models.SearchLogEntry{
		Query:        query,
		ResultsFound: resultCount > 0,
		ResultCount:  resultCount,
		Tags:         tags,
	}
	if best := result.BestMatch(); best != nil {
		entry.MatchedArticle = &best.Article.ID
	}
	s.gapService.LogSearch(ctx, entry)

	s.logger.Debug("Candidate search complete",
		zap.Int("scored_articles", len(articles)),
		zap.Int("candidates", resultCount),
		zap.Bool("degraded", result.Degraded))

	return result, nil
}

// scoreArticle computes the article's 0-100 score. Edge cases are scored
// against their own symptom, tags and counters; when one outscores the
// parent, the candidate is annotated with it and takes its score.
func (s *matcherService) scoreArticle(
	article *models.Article,
	tokens []string,
	queryTags models.ContextTags,
	queryVec []float32,
	embeddings map[string][]float32,
	now time.Time,
) *models.CandidateMatch {
	base := lexicalScore(tokens, article.Title, article.Problem,
		strings.Join(article.Solution, " "), tagText(article.Tags))
	if sem := semanticScore(queryVec, embeddings[strings.TrimSpace(article.Problem)]); sem > base {
		base = sem
	}

	score := base +
		contextBoost(article.Tags, queryTags) +
		successBoost(article.SuccessCount, article.FailureCount) +
		usageBoost(article.Usage()) +
		recencyBoost(article.UpdatedAt, now)

	var matched *models.EdgeCase
	for i := range article.EdgeCases {
		ec := &article.EdgeCases[i]
		if ecScore := s.scoreEdgeCase(ec, tokens, queryTags, queryVec, embeddings); ecScore > score {
			score = ecScore
			matched = ec
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return &models.CandidateMatch{
		Article:         article,
		Score:           score,
		Confidence:      float64(score) / 100,
		MatchedEdgeCase: matched,
	}
}

func (s *matcherService) scoreEdgeCase(
	ec *models.EdgeCase,
	tokens []string,
	queryTags models.ContextTags,
	queryVec []float32,
	embeddings map[string][]float32,
) int {
	base := lexicalScore(tokens, ec.Symptom, "", strings.Join(ec.Solution, " "), tagText(ec.Tags))
	if sem := semanticScore(queryVec, embeddings[strings.TrimSpace(ec.Symptom)]); sem > base {
		base = sem
	}
	return base + contextBoost(ec.Tags, queryTags) + successBoost(ec.SuccessCount, ec.FailureCount)
}

// expandQuery asks the chat model for alternative phrasings of the query,
// cached so repeated searches do not re-invoke the model. Failure only
// degrades: matching proceeds with the raw query.
func (s *matcherService) expandQuery(ctx context.Context, query string, result *models.SearchResult) []string {
	if !s.cfg.Search.EnableExpansion {
		return nil
	}

	client, err := s.llmFactory.CreateChatClient()
	if err != nil {
		s.logger.Warn("Chat client unavailable, skipping query expansion", zap.Error(err))
		result.Degraded = true
		return nil
	}

	terms, _, err := cache.GetOrCompute(ctx, s.cacheStore, s.logger,
		cache.NamespaceExpansion, query, s.cfg.Cache.ExpansionTTL,
		func(ctx context.Context) ([]string, error) {
			return s.requestExpansion(ctx, client, query)
		})
	if err != nil {
		s.logger.Warn("Query expansion failed", zap.Error(err))
		result.Degraded = true
		return nil
	}

	if len(terms) > maxExpansionTerms {
		terms = terms[:maxExpansionTerms]
	}
	return terms
}

func (s *matcherService) requestExpansion(ctx context.Context, client llm.LLMClient, query string) ([]string, error) {
	prompt := fmt.Sprintf(`A support agent is searching a knowledge base for:

%q

List up to %d alternative search terms or phrasings (synonyms, related error wording) that could match the same underlying problem.

Return JSON:
{"terms": ["term 1", "term 2"]}`, query, maxExpansionTerms)

	resp, err := client.GenerateResponse(ctx, prompt, expansionSystemMessage, s.cfg.AI.Temperature)
	if err != nil {
		return nil, err
	}

	parsed, err := llm.ParseJSONResponse[expansionResponse](resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse expansion response: %w", err)
	}
	return parsed.Terms, nil
}

// embedTexts resolves embeddings for the query, every article problem and
// every edge-case symptom through the cache store, fanning misses out
// through the worker pool. A nil map skips semantic scoring entirely.
func (s *matcherService) embedTexts(ctx context.Context, query string, articles []*models.Article, result *models.SearchResult) map[string][]float32 {
	if len(articles) == 0 {
		return nil
	}

	client, err := s.llmFactory.CreateEmbeddingClient()
	if err != nil {
		s.logger.Warn("Embedding client unavailable, lexical scoring only", zap.Error(err))
		result.Degraded = true
		return nil
	}

	seen := make(map[string]struct{})
	texts := make([]string, 0, len(articles)+1)
	add := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	}
	add(query)
	for _, article := range articles {
		add(article.Problem)
		for i := range article.EdgeCases {
			add(article.EdgeCases[i].Symptom)
		}
	}

	items := make([]llm.WorkItem[[]float32], 0, len(texts))
	for _, text := range texts {
		text := text
		items = append(items, llm.WorkItem[[]float32]{
			ID: text,
			Execute: func(ctx context.Context) ([]float32, error) {
				vec, _, err := cache.GetOrCompute(ctx, s.cacheStore, s.logger,
					cache.NamespaceEmbedding, text, s.cfg.Cache.EmbeddingTTL,
					func(ctx context.Context) ([]float32, error) {
						return client.CreateEmbedding(ctx, text, s.cfg.AI.EmbeddingModel)
					})
				return vec, err
			},
		})
	}

	results := llm.Process(ctx, s.workerPool, items)

	embeddings := make(map[string][]float32, len(results))
	for _, r := range results {
		if r.Err != nil {
			s.logger.Warn("Embedding failed, lexical fallback for this text", zap.Error(r.Err))
			result.Degraded = true
			continue
		}
		embeddings[r.ID] = r.Result
	}

	if _, ok := embeddings[query]; !ok {
		// Nothing to compare against without the query vector
		return nil
	}
	return embeddings
}

// ============================================================================
// Scoring Helpers
// ============================================================================

// tokenize lowercases and splits text into deduplicated match tokens,
// dropping single-character noise.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(field) < 2 {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

// mergeTokens appends tokens from expansion terms not already present.
func mergeTokens(tokens []string, terms []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		seen[tok] = struct{}{}
	}
	for _, term := range terms {
		for _, tok := range tokenize(term) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// lexicalScore awards per-token points for substring hits in each field.
func lexicalScore(tokens []string, title, problem, solution, tagBlob string) int {
	title = strings.ToLower(title)
	problem = strings.ToLower(problem)
	solution = strings.ToLower(solution)
	tagBlob = strings.ToLower(tagBlob)

	score := 0
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			score += titleTokenPoints
		}
		if strings.Contains(problem, tok) {
			score += problemTokenPoints
		}
		if strings.Contains(solution, tok) {
			score += solutionTokenPoints
		}
		if tagBlob != "" && strings.Contains(tagBlob, tok) {
			score += tagTokenPoints
		}
	}
	return score
}

// semanticScore scales cosine similarity into the lexical 0-100 range.
func semanticScore(queryVec, docVec []float32) int {
	if len(queryVec) == 0 || len(docVec) == 0 || len(queryVec) != len(docVec) {
		return 0
	}
	cos := cosineSimilarity(queryVec, docVec)
	if cos <= 0 {
		return 0
	}
	return int(math.Round(cos * 100))
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func contextBoost(entity, query models.ContextTags) int {
	boost := 0
	if query.Syndicator != "" && strings.EqualFold(entity.Syndicator, query.Syndicator) {
		boost += syndicatorBoost
	}
	if query.Provider != "" && strings.EqualFold(entity.Provider, query.Provider) {
		boost += providerBoost
	}
	if query.Category != "" && strings.EqualFold(entity.Category, query.Category) {
		boost += categoryBoost
	}
	return boost
}

// successBoost rewards a proven track record once the entry has been tried
// at least three times; a poor record pushes the entry down instead.
func successBoost(success, failure int) int {
	usage := success + failure
	if usage < 3 {
		return 0
	}
	rate := float64(success) / float64(usage)
	switch {
	case rate >= 0.9:
		return 15
	case rate >= 0.7:
		return 10
	case rate >= 0.5:
		return 5
	case rate < 0.3:
		return -10
	default:
		return 0
	}
}

func usageBoost(usage int) int {
	boost := usage / 2
	if boost > maxUsageBoost {
		return maxUsageBoost
	}
	return boost
}

func recencyBoost(updatedAt, now time.Time) int {
	age := now.Sub(updatedAt)
	switch {
	case age <= 7*24*time.Hour:
		return 3
	case age <= 30*24*time.Hour:
		return 1
	default:
		return 0
	}
}

func tagText(tags models.ContextTags) string {
	return strings.TrimSpace(tags.Syndicator + " " + tags.Provider + " " + tags.Category)
}

// sortCandidates orders by score, then success rate, then most recent
// update, then ascending ID so equal candidates rank deterministically.
func sortCandidates(candidates []*models.CandidateMatch) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if aRate, bRate := a.Article.SuccessRate(), b.Article.SuccessRate(); aRate != bRate {
			return aRate > bRate
		}
		if !a.Article.UpdatedAt.Equal(b.Article.UpdatedAt) {
			return a.Article.UpdatedAt.After(b.Article.UpdatedAt)
		}
		return bytes.Compare(a.Article.ID[:], b.Article.ID[:]) < 0
	})
}
