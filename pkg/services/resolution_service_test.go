package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/models"
)

// Stub judge returning a fixed decision
type testResolutionJudge struct {
	decision     *models.Decision
	err          error
	calls        int
	gotCandidate *models.CandidateMatch
	gotNeighbors []*models.Article
}

func (j *testResolutionJudge) Judge(ctx context.Context, candidate *models.CandidateMatch, report *models.ResolutionReport, neighbors []*models.Article) (*models.Decision, error) {
	j.calls++
	j.gotCandidate = candidate
	j.gotNeighbors = neighbors
	if j.err != nil {
		return nil, j.err
	}
	return j.decision, nil
}

type testOutcomeCall struct {
	articleID uuid.UUID
	success   bool
}

type testEdgeOutcomeCall struct {
	articleID  uuid.UUID
	edgeCaseID uuid.UUID
	success    bool
}

// In-memory article repository recording every write
type testResolutionArticleRepo struct {
	byID map[uuid.UUID]*models.Article
	list []*models.Article

	created        []*models.Article
	outcomes       []testOutcomeCall
	edgeOutcomes   []testEdgeOutcomeCall
	replacedID     uuid.UUID
	replacedSteps  []string
	replacedReason string
	replacedRef    string
	edgeAddedID    uuid.UUID
	edgeAdded      *models.EdgeCase
	edgeAddedRef   string
	mergeKeep      uuid.UUID
	mergeFold      uuid.UUID
	mergeCalls     int
	getErr         error
}

func newTestResolutionRepo(articles ...*models.Article) *testResolutionArticleRepo {
	repo := &testResolutionArticleRepo{byID: make(map[uuid.UUID]*models.Article)}
	for _, article := range articles {
		repo.byID[article.ID] = article
		repo.list = append(repo.list, article)
	}
	return repo
}

func (r *testResolutionArticleRepo) Create(ctx context.Context, article *models.Article) error {
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	now := time.Now()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	article.UpdatedAt = now
	r.byID[article.ID] = article
	r.list = append(r.list, article)
	r.created = append(r.created, article)
	return nil
}

func (r *testResolutionArticleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.byID[id], nil
}

func (r *testResolutionArticleRepo) List(ctx context.Context, includeSuperseded bool) ([]*models.Article, error) {
	out := make([]*models.Article, 0, len(r.list))
	for _, article := range r.list {
		if !includeSuperseded && article.IsSuperseded() {
			continue
		}
		out = append(out, article)
	}
	return out, nil
}

func (r *testResolutionArticleRepo) ReplaceSolution(ctx context.Context, id uuid.UUID, steps []string, reason, sourceRef string) error {
	r.replacedID = id
	r.replacedSteps = steps
	r.replacedReason = reason
	r.replacedRef = sourceRef
	if article := r.byID[id]; article != nil {
		article.Solution = steps
	}
	return nil
}

func (r *testResolutionArticleRepo) AddEdgeCase(ctx context.Context, id uuid.UUID, ec models.EdgeCase, sourceRef string) error {
	r.edgeAddedID = id
	r.edgeAdded = &ec
	r.edgeAddedRef = sourceRef
	if article := r.byID[id]; article != nil {
		ec.ID = uuid.New()
		article.EdgeCases = append(article.EdgeCases, ec)
	}
	return nil
}

func (r *testResolutionArticleRepo) RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error {
	r.outcomes = append(r.outcomes, testOutcomeCall{articleID: id, success: success})
	if article := r.byID[id]; article != nil {
		if success {
			article.SuccessCount++
		} else {
			article.FailureCount++
		}
	}
	return nil
}

func (r *testResolutionArticleRepo) RecordEdgeCaseOutcome(ctx context.Context, articleID, edgeCaseID uuid.UUID, success bool) error {
	r.edgeOutcomes = append(r.edgeOutcomes, testEdgeOutcomeCall{articleID: articleID, edgeCaseID: edgeCaseID, success: success})
	return nil
}

func (r *testResolutionArticleRepo) Merge(ctx context.Context, keepID, foldID uuid.UUID) error {
	r.mergeCalls++
	r.mergeKeep = keepID
	r.mergeFold = foldID
	if fold := r.byID[foldID]; fold != nil {
		fold.SupersededBy = &keepID
	}
	return nil
}

func (r *testResolutionArticleRepo) Count(ctx context.Context) (int, error) {
	return len(r.list), nil
}

func newTestResolution(repo *testResolutionArticleRepo, judge *testResolutionJudge) *resolutionService {
	return &resolutionService{
		articleRepo: repo,
		judge:       judge,
		logger:      zap.NewNop(),
	}
}

func testResolutionReport(outcome models.ReportOutcome) *models.ResolutionReport {
	return &models.ResolutionReport{
		TicketID: "T-1001",
		Problem:  "Printer shows offline after the latest update",
		Tried:    "Rebooted the printer",
		Worked:   "Rolled back the driver",
		Solution: []string{"Roll back the driver", "Restart the spooler"},
		Tags:     models.ContextTags{Provider: "DealerSite"},
		Outcome:  outcome,
	}
}

func testResolutionCandidate(article *models.Article) *models.CandidateMatch {
	return &models.CandidateMatch{Article: article, Score: 62, Confidence: 0.62}
}

func TestResolutionService_Report_WorkedIncrementsWithoutJudge(t *testing.T) {
	article := &models.Article{
		ID:           uuid.New(),
		Title:        "Printer offline after driver update",
		SuccessCount: 3,
		FailureCount: 1,
	}
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{}
	service := newTestResolution(repo, judge)

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeWorked), testResolutionCandidate(article))
	require.NoError(t, err)

	assert.Equal(t, 0, judge.calls)
	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, article.ID, repo.outcomes[0].articleID)
	assert.True(t, repo.outcomes[0].success)

	assert.True(t, result.SuccessRecorded)
	assert.False(t, result.FailureRecorded)
	assert.Equal(t, models.ActionNone, result.Decision.Action)
	assert.Equal(t, 100, result.Decision.Confidence)
	require.NotNil(t, result.AppliedArticle)
	assert.Equal(t, 4, result.AppliedArticle.SuccessCount)
}

func TestResolutionService_Report_WorkedRoutesToEdgeCase(t *testing.T) {
	edgeID := uuid.New()
	article := &models.Article{
		ID:    uuid.New(),
		Title: "Printer offline after driver update",
		EdgeCases: []models.EdgeCase{
			{ID: edgeID, Symptom: "Offline only over VPN", Solution: []string{"Reconnect the VPN"}},
		},
	}
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{}
	service := newTestResolution(repo, judge)

	candidate := testResolutionCandidate(article)
	candidate.MatchedEdgeCase = &article.EdgeCases[0]

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeWorked), candidate)
	require.NoError(t, err)

	assert.Empty(t, repo.outcomes)
	require.Len(t, repo.edgeOutcomes, 1)
	assert.Equal(t, article.ID, repo.edgeOutcomes[0].articleID)
	assert.Equal(t, edgeID, repo.edgeOutcomes[0].edgeCaseID)
	assert.True(t, repo.edgeOutcomes[0].success)
	assert.True(t, result.SuccessRecorded)
}

func TestResolutionService_Report_WorkedReloadFailureFallsBack(t *testing.T) {
	article := &models.Article{ID: uuid.New(), Title: "Printer offline"}
	repo := newTestResolutionRepo(article)
	repo.getErr = errors.New("connection reset")
	service := newTestResolution(repo, &testResolutionJudge{})

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeWorked), testResolutionCandidate(article))
	require.NoError(t, err)

	// The increment stands even when the re-read fails.
	require.Len(t, repo.outcomes, 1)
	assert.Same(t, article, result.AppliedArticle)
}

func TestResolutionService_Report_RejectsInvalidReports(t *testing.T) {
	article := &models.Article{ID: uuid.New()}
	match := testResolutionCandidate(article)

	blank := testResolutionReport(models.OutcomeFailed)
	blank.Problem = "   "
	unknown := testResolutionReport("resolved")

	tests := []struct {
		name       string
		report     *models.ResolutionReport
		priorMatch *models.CandidateMatch
	}{
		{"nil report", nil, match},
		{"blank problem", blank, match},
		{"unknown outcome", unknown, match},
		{"worked without prior match", testResolutionReport(models.OutcomeWorked), nil},
		{"failed without prior match", testResolutionReport(models.OutcomeFailed), nil},
		{"new with prior match", testResolutionReport(models.OutcomeNew), match},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestResolutionRepo(article)
			judge := &testResolutionJudge{}
			service := newTestResolution(repo, judge)

			_, err := service.Report(context.Background(), tt.report, tt.priorMatch)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, 0, judge.calls)
			assert.Empty(t, repo.outcomes)
		})
	}
}

func TestResolutionService_Report_FailedRecordsFailureThenJudges(t *testing.T) {
	article := &models.Article{ID: uuid.New(), Title: "Printer offline", FailureCount: 1}
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:     models.ActionNone,
		Rationale:  "resolution already covered by the article",
		Confidence: 60,
	}}
	service := newTestResolution(repo, judge)
	candidate := testResolutionCandidate(article)

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), candidate)
	require.NoError(t, err)

	require.Len(t, repo.outcomes, 1)
	assert.False(t, repo.outcomes[0].success)
	assert.Equal(t, 1, judge.calls)
	assert.Same(t, candidate, judge.gotCandidate)

	assert.True(t, result.FailureRecorded)
	assert.False(t, result.SuccessRecorded)
	assert.Nil(t, result.AppliedArticle)
	assert.Equal(t, models.ActionNone, result.Decision.Action)
}

func TestResolutionService_Report_NewProblemJudgesWithoutCandidate(t *testing.T) {
	repo := newTestResolutionRepo()
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:     models.ActionAddNew,
		Rationale:  "no existing article covers this",
		Confidence: 90,
		NewArticle: &models.ArticleDraft{
			Title:    "Printer offline after driver update",
			Problem:  "Printer drops offline following driver updates",
			Solution: []string{"Roll back the driver"},
			Tags:     models.ContextTags{Provider: "DealerSite"},
		},
	}}
	service := newTestResolution(repo, judge)

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeNew), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, judge.calls)
	assert.Nil(t, judge.gotCandidate)

	require.Len(t, repo.created, 1)
	created := repo.created[0]
	assert.Equal(t, "Printer offline after driver update", created.Title)
	assert.Equal(t, []string{"Roll back the driver"}, created.Solution)
	assert.Equal(t, 1, created.SuccessCount)
	assert.Equal(t, []string{"ticket:T-1001"}, created.SourceRefs)
	assert.Equal(t, "DealerSite", created.Tags.Provider)

	assert.True(t, result.SuccessRecorded)
	assert.Same(t, created, result.AppliedArticle)
}

func TestResolutionService_Report_AddNewFillsFromReport(t *testing.T) {
	repo := newTestResolutionRepo()
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:     models.ActionAddNew,
		Rationale:  "new problem",
		Confidence: 85,
	}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeNew)
	report.Problem = "The nightly inventory feed import stalls at ninety percent exactly"

	_, err := service.Report(context.Background(), report, nil)
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	created := repo.created[0]
	assert.Equal(t, "The nightly inventory feed import stalls at ninety", created.Title)
	assert.Equal(t, report.Problem, created.Problem)
	assert.Equal(t, report.Solution, created.Solution)
	assert.Equal(t, report.Tags, created.Tags)
}

func TestResolutionService_Report_AddNewWithoutSolutionRejected(t *testing.T) {
	repo := newTestResolutionRepo()
	judge := &testResolutionJudge{decision: &models.Decision{Action: models.ActionAddNew, Confidence: 85}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeNew)
	report.Solution = nil
	report.Worked = "   "

	_, err := service.Report(context.Background(), report, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Empty(t, repo.created)
}

func TestResolutionService_Report_UpdateExistingReplacesSolution(t *testing.T) {
	target := &models.Article{
		ID:       uuid.New(),
		Title:    "Printer offline after driver update",
		Solution: []string{"Reinstall the driver"},
	}
	repo := newTestResolutionRepo(target)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:          models.ActionUpdateExisting,
		TargetArticleID: &target.ID,
		Rationale:       "newer fix works on current builds",
		Confidence:      80,
	}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeFailed)
	result, err := service.Report(context.Background(), report, testResolutionCandidate(target))
	require.NoError(t, err)

	assert.Equal(t, target.ID, repo.replacedID)
	assert.Equal(t, report.Solution, repo.replacedSteps)
	assert.Equal(t, "newer fix works on current builds", repo.replacedReason)
	assert.Equal(t, "ticket:T-1001", repo.replacedRef)

	require.NotNil(t, result.AppliedArticle)
	assert.Equal(t, report.Solution, result.AppliedArticle.Solution)
	assert.False(t, result.SuccessRecorded)
	assert.True(t, result.FailureRecorded)
}

func TestResolutionService_Report_UpdateSupersededTargetRejected(t *testing.T) {
	survivor := uuid.New()
	target := &models.Article{
		ID:           uuid.New(),
		Title:        "Printer offline after driver update",
		SupersededBy: &survivor,
	}
	repo := newTestResolutionRepo(target)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:          models.ActionUpdateExisting,
		TargetArticleID: &target.ID,
		Confidence:      80,
	}}
	service := newTestResolution(repo, judge)

	_, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(target))
	assert.ErrorIs(t, err, apperrors.ErrSuperseded)
	assert.Equal(t, uuid.Nil, repo.replacedID)
}

func TestResolutionService_Report_UpdateMissingTargetRejected(t *testing.T) {
	article := &models.Article{ID: uuid.New(), Title: "Printer offline"}
	missing := uuid.New()
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:          models.ActionUpdateExisting,
		TargetArticleID: &missing,
		Confidence:      80,
	}}
	service := newTestResolution(repo, judge)

	_, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(article))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolutionService_Report_AddEdgeCaseAppendsUnderTarget(t *testing.T) {
	target := &models.Article{ID: uuid.New(), Title: "Printer offline after driver update"}
	repo := newTestResolutionRepo(target)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:          models.ActionAddEdgeCase,
		TargetArticleID: &target.ID,
		Rationale:       "same fix, VPN-specific symptom",
		Confidence:      80,
		NewArticle:      &models.ArticleDraft{Problem: "Offline only over VPN"},
	}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeFailed)
	result, err := service.Report(context.Background(), report, testResolutionCandidate(target))
	require.NoError(t, err)

	assert.Equal(t, target.ID, repo.edgeAddedID)
	require.NotNil(t, repo.edgeAdded)
	assert.Equal(t, "Offline only over VPN", repo.edgeAdded.Symptom)
	assert.Equal(t, report.Solution, repo.edgeAdded.Solution)
	assert.Equal(t, 1, repo.edgeAdded.SuccessCount)
	assert.Equal(t, report.Tags, repo.edgeAdded.Tags)
	assert.Equal(t, "ticket:T-1001", repo.edgeAddedRef)
	assert.True(t, result.SuccessRecorded)
}

func TestResolutionService_Report_AddEdgeCaseSymptomDefaultsToProblem(t *testing.T) {
	target := &models.Article{ID: uuid.New(), Title: "Printer offline after driver update"}
	repo := newTestResolutionRepo(target)
	judge := &testResolutionJudge{decision: &models.Decision{
		Action:          models.ActionAddEdgeCase,
		TargetArticleID: &target.ID,
		Confidence:      80,
	}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeFailed)
	_, err := service.Report(context.Background(), report, testResolutionCandidate(target))
	require.NoError(t, err)

	require.NotNil(t, repo.edgeAdded)
	assert.Equal(t, report.Problem, repo.edgeAdded.Symptom)
}

func TestResolutionService_Report_MergeKeepsOlderArticle(t *testing.T) {
	now := time.Now()
	older := &models.Article{ID: uuid.New(), Title: "Printer offline", CreatedAt: now.Add(-48 * time.Hour)}
	newer := &models.Article{ID: uuid.New(), Title: "Printer shows offline", CreatedAt: now}

	t.Run("target is older", func(t *testing.T) {
		repo := newTestResolutionRepo(older, newer)
		judge := &testResolutionJudge{decision: &models.Decision{
			Action:          models.ActionMerge,
			TargetArticleID: &older.ID,
			Confidence:      85,
		}}
		service := newTestResolution(repo, judge)

		result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(newer))
		require.NoError(t, err)

		assert.Equal(t, older.ID, repo.mergeKeep)
		assert.Equal(t, newer.ID, repo.mergeFold)
		assert.Equal(t, older.ID, result.AppliedArticle.ID)
	})

	t.Run("target is newer", func(t *testing.T) {
		older := &models.Article{ID: uuid.New(), Title: "Printer offline", CreatedAt: now.Add(-48 * time.Hour)}
		newer := &models.Article{ID: uuid.New(), Title: "Printer shows offline", CreatedAt: now}
		repo := newTestResolutionRepo(older, newer)
		judge := &testResolutionJudge{decision: &models.Decision{
			Action:          models.ActionMerge,
			TargetArticleID: &newer.ID,
			Confidence:      85,
		}}
		service := newTestResolution(repo, judge)

		result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(older))
		require.NoError(t, err)

		assert.Equal(t, older.ID, repo.mergeKeep)
		assert.Equal(t, newer.ID, repo.mergeFold)
		assert.Equal(t, older.ID, result.AppliedArticle.ID)
	})
}

func TestResolutionService_Report_NoneLeavesKBUntouched(t *testing.T) {
	article := &models.Article{ID: uuid.New(), Title: "Printer offline"}
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{decision: models.ConservativeDecision("classification unavailable: provider down")}
	service := newTestResolution(repo, judge)

	result, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(article))
	require.NoError(t, err)

	// The failure was already recorded before the judge degraded.
	assert.True(t, result.FailureRecorded)
	assert.True(t, result.Degraded)
	assert.Nil(t, result.AppliedArticle)
	assert.Empty(t, repo.created)
	assert.Equal(t, uuid.Nil, repo.replacedID)
	assert.Equal(t, 0, repo.mergeCalls)
}

func TestResolutionService_Report_JudgeErrorPropagates(t *testing.T) {
	article := &models.Article{ID: uuid.New(), Title: "Printer offline"}
	repo := newTestResolutionRepo(article)
	judge := &testResolutionJudge{err: errors.New("judge rejected input")}
	service := newTestResolution(repo, judge)

	_, err := service.Report(context.Background(), testResolutionReport(models.OutcomeFailed), testResolutionCandidate(article))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to classify resolution")
}

func TestResolutionService_Report_NeighborsExcludeCandidate(t *testing.T) {
	candidateArticle := &models.Article{ID: uuid.New(), Title: "Printer offline banner stuck"}
	exact := &models.Article{ID: uuid.New(), Title: "Printer offline banner"}
	partial := &models.Article{ID: uuid.New(), Title: "Printer offline"}
	weak := &models.Article{ID: uuid.New(), Title: "Printer paper empty"}
	weaker := &models.Article{ID: uuid.New(), Title: "Printer"}
	unrelated := &models.Article{ID: uuid.New(), Title: "VPN drops hourly"}
	repo := newTestResolutionRepo(candidateArticle, exact, partial, weak, weaker, unrelated)

	judge := &testResolutionJudge{decision: &models.Decision{Action: models.ActionNone, Confidence: 60}}
	service := newTestResolution(repo, judge)

	report := testResolutionReport(models.OutcomeFailed)
	report.Problem = "printer offline banner"
	report.Tags = models.ContextTags{}

	_, err := service.Report(context.Background(), report, testResolutionCandidate(candidateArticle))
	require.NoError(t, err)

	require.Len(t, judge.gotNeighbors, 3)
	assert.Equal(t, exact.ID, judge.gotNeighbors[0].ID)
	assert.Equal(t, partial.ID, judge.gotNeighbors[1].ID)
	assert.Equal(t, weak.ID, judge.gotNeighbors[2].ID)
	for _, neighbor := range judge.gotNeighbors {
		assert.NotEqual(t, candidateArticle.ID, neighbor.ID)
		assert.NotEqual(t, unrelated.ID, neighbor.ID)
	}
}
