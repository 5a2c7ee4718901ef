package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/cooccurrence"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeRuleStore struct {
	rules []models.CompanionRule
}

func (f *fakeRuleStore) Create(_ context.Context, rule *models.CompanionRule) (*models.CompanionRule, error) {
	rule.ID = fmt.Sprintf("rule-%d", len(f.rules)+1)
	f.rules = append(f.rules, *rule)
	return rule, nil
}

func (f *fakeRuleStore) Get(_ context.Context, id string) (*models.CompanionRule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			rule := f.rules[i]
			return &rule, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "companion rule not found")
}

func (f *fakeRuleStore) List(_ context.Context, activeOnly bool) ([]models.CompanionRule, error) {
	out := []models.CompanionRule{}
	for _, rule := range f.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeRuleStore) ListActive(ctx context.Context) ([]models.CompanionRule, error) {
	return f.List(ctx, true)
}

func (f *fakeRuleStore) Update(_ context.Context, rule *models.CompanionRule) (*models.CompanionRule, error) {
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = *rule
			return rule, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "companion rule not found")
}

func (f *fakeRuleStore) Deactivate(_ context.Context, id string) error {
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].IsActive = false
			return nil
		}
	}
	return httperror.NewHTTPError(http.StatusNotFound, "companion rule not found")
}

func (f *fakeRuleStore) CountByActive(_ context.Context) (int64, int64, error) {
	var active int64
	for _, rule := range f.rules {
		if rule.IsActive {
			active++
		}
	}
	return int64(len(f.rules)), active, nil
}

type fakeSuggestionStore struct {
	suggestions []models.CompanionSuggestion
	nextID      int
}

func (f *fakeSuggestionStore) Upsert(_ context.Context, s *models.CompanionSuggestion) (*models.CompanionSuggestion, bool, error) {
	f.nextID++
	s.ID = fmt.Sprintf("suggestion-%d", f.nextID)
	s.Status = models.SuggestionStatusPending
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	f.suggestions = append(f.suggestions, *s)
	out := *s
	return &out, true, nil
}

func (f *fakeSuggestionStore) Get(_ context.Context, id string) (*models.CompanionSuggestion, error) {
	for i := range f.suggestions {
		if f.suggestions[i].ID == id {
			out := f.suggestions[i]
			return &out, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "suggestion not found")
}

func (f *fakeSuggestionStore) List(_ context.Context, status *string, sourceJobID *string, _, _ int) ([]models.CompanionSuggestion, int64, error) {
	out := []models.CompanionSuggestion{}
	for _, s := range f.suggestions {
		if status != nil && s.Status != *status {
			continue
		}
		if sourceJobID != nil && s.SourceJobID != *sourceJobID {
			continue
		}
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (f *fakeSuggestionStore) Decide(_ context.Context, id string, outcome string, decidedBy *string, approvedQty *int, notes *string) (*models.CompanionSuggestion, error) {
	for i := range f.suggestions {
		s := &f.suggestions[i]
		if s.ID != id {
			continue
		}
		if s.Status != models.SuggestionStatusPending {
			conflict := httperror.ToHTTPError(httperror.NewHTTPErrorf(http.StatusConflict, "suggestion %s was already %s", id, s.Status))
			conflict.Meta = map[string]any{
				"status":     s.Status,
				"decided_by": s.DecidedBy,
				"decided_at": s.DecidedAt,
			}
			return nil, conflict
		}
		now := time.Now().UTC()
		s.Status = outcome
		s.DecidedBy = decidedBy
		s.DecidedAt = &now
		s.ApprovedQty = approvedQty
		if notes != nil {
			s.Notes = notes
		}
		out := *s
		return &out, nil
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "suggestion not found")
}

func (f *fakeSuggestionStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, s := range f.suggestions {
		counts[s.Status]++
	}
	return counts, nil
}

func (f *fakeSuggestionStore) RecordFeedback(_ context.Context, _ *models.CompanionFeedback) error {
	return nil
}

type fakePairStore struct {
	pairs []models.CoOccurrencePair
}

func (f *fakePairStore) TopPairs(_ context.Context, limit int, categoryID *int64) ([]models.CoOccurrencePair, error) {
	out := []models.CoOccurrencePair{}
	for _, p := range f.pairs {
		if categoryID != nil && p.CategoryAID != *categoryID && p.CategoryBID != *categoryID {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePairStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.pairs)), nil
}

func (f *fakePairStore) LastComputedAt(_ context.Context) (*time.Time, error) {
	var last *time.Time
	for i := range f.pairs {
		if last == nil || f.pairs[i].LastComputedAt.After(*last) {
			last = &f.pairs[i].LastComputedAt
		}
	}
	return last, nil
}

type fakeCatalog struct {
	categories map[int64]string
	styles     map[int64]string
}

func (f *fakeCatalog) ResolveCategory(_ context.Context, id int64) (*catalog.Category, error) {
	if name, ok := f.categories[id]; ok {
		return &catalog.Category{ID: id, Name: name}, nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "category %d not found", id)
}

func (f *fakeCatalog) ResolveStyle(_ context.Context, id int64) (*catalog.Style, error) {
	if name, ok := f.styles[id]; ok {
		return &catalog.Style{ID: id, Name: name}, nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "style %d not found", id)
}

func (f *fakeCatalog) Names(_ context.Context, categoryIDs []int64, styleIDs []int64) (catalog.Snapshot, error) {
	snap := catalog.Snapshot{Categories: map[int64]string{}, Styles: map[int64]string{}}
	for _, id := range categoryIDs {
		if name, ok := f.categories[id]; ok {
			snap.Categories[id] = name
		}
	}
	for _, id := range styleIDs {
		if name, ok := f.styles[id]; ok {
			snap.Styles[id] = name
		}
	}
	return snap, nil
}

type fakeMovementSource struct{}

func (f *fakeMovementSource) ListConsumptions(_ context.Context, _ int64, _ int, _, _ *time.Time) ([]models.StockMovement, error) {
	return nil, nil
}

type fakePairWriter struct{}

func (f *fakePairWriter) ReplaceAll(_ context.Context, _ []models.CoOccurrencePair) error {
	return nil
}

type fakeLock struct {
	locker *fakeLocker
}

func (l fakeLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.held = false
	return nil
}

func (l fakeLock) Extend(_ context.Context, _ time.Duration) error {
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (cooccurrence.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, cooccurrence.ErrAlreadyRunning
	}
	f.held = true
	return fakeLock{locker: f}, nil
}

type testServer struct {
	e        *echo.Echo
	analyzer *cooccurrence.Analyzer
	pairs    *fakePairStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	pairs := &fakePairStore{}
	service := companions.NewService(
		&fakeRuleStore{},
		&fakeSuggestionStore{},
		pairs,
		&fakeCatalog{
			categories: map[int64]string{1: "Switches", 2: "Cover Plates"},
			styles:     map[int64]string{4: "Decora"},
		},
		events.NewEmitter(nil, logger),
		logger,
	)
	analyzer := cooccurrence.NewAnalyzer(
		&fakeMovementSource{},
		&fakePairWriter{},
		&fakeLocker{},
		cooccurrence.Config{},
		logger,
	)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	api := e.Group("/api/v1/companions")
	NewRulesHandler(service, logger).Register(api.Group("/rules"))
	NewSuggestionsHandler(service, logger).Register(api.Group("/suggestions"))
	NewCoOccurrenceHandler(service, analyzer, logger).Register(api.Group("/co-occurrence"))
	NewStatsHandler(service, logger).Register(api.Group("/stats"))

	return &testServer{e: e, analyzer: analyzer, pairs: pairs}
}

func (s *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "tester")

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func validRuleBody() map[string]any {
	return map[string]any{
		"name":        "Switch plates",
		"style_match": "auto",
		"qty_mode":    "sum",
		"sources":     []map[string]any{{"category_id": 1}},
		"targets":     []map[string]any{{"category_id": 2}},
	}
}

func TestRulesAPI_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/v1/companions/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.CompanionRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, "tester", *created.CreatedBy)

	rec = s.request(t, http.MethodGet, "/api/v1/companions/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/companions/rules?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []models.CompanionRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Len(t, rules, 1)

	rec = s.request(t, http.MethodDelete, "/api/v1/companions/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/companions/rules?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Empty(t, rules)
}

func TestRulesAPI_ValidationViolationsInMeta(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"name":        "Bad rule",
		"style_match": "bogus",
		"qty_mode":    "bogus",
	}
	rec := s.request(t, http.MethodPost, "/api/v1/companions/rules", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	violations, ok := resp.Meta["violations"].([]any)
	require.True(t, ok, "expected violations in error meta: %s", rec.Body.String())
	// style_match, qty_mode, no sources, no targets
	assert.Len(t, violations, 4)
}

func TestRulesAPI_MissingNameRejectedAtBinding(t *testing.T) {
	s := newTestServer(t)

	body := validRuleBody()
	delete(body, "name")
	rec := s.request(t, http.MethodPost, "/api/v1/companions/rules", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestionsAPI_GenerateAndDecide(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/v1/companions/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	generate := map[string]any{
		"source_job_id": "job-77",
		"trigger_items": []map[string]any{{"category_id": 1, "style_id": 4, "qty": 3}},
	}
	rec = s.request(t, http.MethodPost, "/api/v1/companions/suggestions/generate", generate)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var touched []models.CompanionSuggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &touched))
	require.Len(t, touched, 1)
	assert.Equal(t, models.SuggestionStatusPending, touched[0].Status)
	assert.Equal(t, 3, touched[0].SuggestedQty)

	id := touched[0].ID
	decide := map[string]any{"outcome": "approved", "approved_qty": 2}
	rec = s.request(t, http.MethodPost, "/api/v1/companions/suggestions/"+id+"/decide", decide)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var decided models.CompanionSuggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, models.SuggestionStatusApproved, decided.Status)
	require.NotNil(t, decided.ApprovedQty)
	assert.Equal(t, 2, *decided.ApprovedQty)

	// Terminal states are immutable
	rec = s.request(t, http.MethodPost, "/api/v1/companions/suggestions/"+id+"/decide", map[string]any{"outcome": "discarded"})
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, "approved", conflict.Meta["status"])
}

func TestSuggestionsAPI_DecideUnknownOutcomeRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/v1/companions/suggestions/some-id/decide", map[string]any{"outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestionsAPI_ListRejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/companions/suggestions?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCoOccurrenceAPI_ListAndRefresh(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	s.pairs.pairs = []models.CoOccurrencePair{
		{CategoryAID: 1, CategoryBID: 2, CoOccurrenceCount: 5, TransactionsA: 5, TransactionsB: 6, Confidence: 1, LastComputedAt: now},
	}

	rec := s.request(t, http.MethodGet, "/api/v1/companions/co-occurrence?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pairs []models.CoOccurrencePair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pairs))
	require.Len(t, pairs, 1)

	rec = s.request(t, http.MethodGet, "/api/v1/companions/co-occurrence?category_id=9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pairs))
	assert.Empty(t, pairs)

	rec = s.request(t, http.MethodPost, "/api/v1/companions/co-occurrence/refresh", map[string]any{})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	s.analyzer.Stop()
}

func TestCoOccurrenceAPI_RefreshRejectsInvertedWindow(t *testing.T) {
	s := newTestServer(t)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	rec := s.request(t, http.MethodPost, "/api/v1/companions/co-occurrence/refresh", map[string]any{
		"window_start": start,
		"window_end":   end,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAPI(t *testing.T) {
	s := newTestServer(t)
	refreshedAt := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s.pairs.pairs = []models.CoOccurrencePair{
		{CategoryAID: 1, CategoryBID: 2, CoOccurrenceCount: 3, LastComputedAt: refreshedAt},
	}

	rec := s.request(t, http.MethodPost, "/api/v1/companions/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/companions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.CompanionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalRules)
	assert.Equal(t, int64(1), stats.ActiveRules)
	assert.Equal(t, float64(0), stats.ApprovalRate)
	assert.Equal(t, int64(1), stats.CoOccurrencePairs)
	require.NotNil(t, stats.CoOccurrenceRefreshedAt)
	assert.True(t, refreshedAt.Equal(*stats.CoOccurrenceRefreshedAt))
}
