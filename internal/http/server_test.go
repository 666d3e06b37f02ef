package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartspend/internal/advice"
	"smartspend/internal/core"
	"smartspend/internal/events"
	"smartspend/internal/metrics"
	"smartspend/internal/middleware/trace"
	"smartspend/internal/services"
	"smartspend/internal/storage/memory"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// flakyStore fails entry listings on demand. afterList, when set, runs once
// after the next listing was read and before it is returned.
type flakyStore struct {
	*memory.Store
	failList  atomic.Bool
	afterList atomic.Pointer[func()]
}

func (f *flakyStore) ListEntries(ctx context.Context, owner string) ([]core.Entry, error) {
	if f.failList.Load() {
		return nil, core.Persistence("list entries", errors.New("disk unavailable"))
	}
	entries, err := f.Store.ListEntries(ctx, owner)
	if hook := f.afterList.Swap(nil); hook != nil {
		(*hook)()
	}
	return entries, err
}

type testEnv struct {
	srv    *Server
	store  *flakyStore
	checks map[string]Check
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := &flakyStore{Store: memory.New()}
	provider := advice.ProviderFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Spend less on coffee.", nil
	})
	m := metrics.New()
	ledgerSvc := services.NewLedgerService(store, events.NewBroker(), services.LedgerConfig{Location: time.UTC}, services.WithMetrics(m))
	env := &testEnv{store: store, checks: map[string]Check{"store": store.Ping}}

	srv, err := NewServer(":0", Deps{
		Ledger:  ledgerSvc,
		Chat:    services.NewChatService(store, provider, time.Second, m),
		Advisor: advice.NewAdvisor(provider, store, m, advice.DefaultAdvisorConfig()),
		Metrics: m,
		Checks:  env.checks,
	}, opts)
	require.NoError(t, err)
	srv.now = func() time.Time { return testNow }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	env.srv = srv
	return env
}

type apiResponse struct {
	Code   int
	Data   json.RawMessage `json:"data"`
	Notice string          `json:"notice"`
	Error  string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, owner, body string) apiResponse {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)

	resp := apiResponse{Code: rec.Code}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	resp.Code = rec.Code
	return resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestEntriesAndBudgetFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/entries", "alice",
		`{"title":"Rent share","amount":"100","date":"2024-03-10","category":"Home"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Error)
	first := decode[entryDTO](t, resp.Data)
	assert.Equal(t, "100.00", first.Amount)
	assert.Equal(t, "2024-03-10", first.Date)
	assert.Equal(t, "expense", first.Type)
	assert.NotEmpty(t, first.ID)

	resp = env.do(t, http.MethodPut, "/api/budget", "alice", `{"period":"2024-03","monthly_budget":"120"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Error)
	budget := decode[budgetDTO](t, resp.Data)
	assert.Equal(t, "100.00", budget.CurrentSpending, "budget starts from existing spending")
	assert.Equal(t, "warning", budget.Usage.Level)
	assert.Equal(t, 83, budget.Usage.PercentUsed)

	resp = env.do(t, http.MethodPost, "/api/entries", "alice",
		`{"title":"Dinner","amount":"50","date":"2024-03-12","category":"Food"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	second := decode[entryDTO](t, resp.Data)

	resp = env.do(t, http.MethodGet, "/api/budget?period=2024-03", "alice", "")
	budget = decode[budgetDTO](t, resp.Data)
	assert.Equal(t, "150.00", budget.CurrentSpending)
	assert.True(t, budget.Usage.Exceeded)
	assert.Equal(t, "over", budget.Usage.Level)

	resp = env.do(t, http.MethodDelete, "/api/entries/"+second.ID, "alice", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.do(t, http.MethodGet, "/api/budget", "alice", "")
	assert.Equal(t, "100.00", decode[budgetDTO](t, resp.Data).CurrentSpending)

	resp = env.do(t, http.MethodPut, "/api/entries/"+first.ID, "alice",
		`{"title":"Rent share","amount":"100","date":"2024-04-02","category":"Home"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.do(t, http.MethodGet, "/api/budget?period=2024-03", "alice", "")
	assert.Equal(t, "0.00", decode[budgetDTO](t, resp.Data).CurrentSpending, "entry moved out of March")

	resp = env.do(t, http.MethodGet, "/api/entries", "alice", "")
	entries := decode[[]entryDTO](t, resp.Data)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-04-02", entries[0].Date)

	resp = env.do(t, http.MethodPost, "/api/budget/recompute", "alice", `{"period":"2024-03"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "0.00", decode[budgetDTO](t, resp.Data).CurrentSpending)
}

func TestOwnerRequirements(t *testing.T) {
	env := newTestEnv(t, Options{})

	mutations := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/entries", `{"title":"x","amount":"1"}`},
		{http.MethodPut, "/api/entries/e1", `{"title":"x","amount":"1"}`},
		{http.MethodDelete, "/api/entries/e1", ""},
		{http.MethodPut, "/api/budget", `{"monthly_budget":"10"}`},
		{http.MethodPost, "/api/budget/recompute", ""},
		{http.MethodPost, "/api/chat", `{"text":"hi"}`},
		{http.MethodPost, "/api/advice", ""},
		{http.MethodGet, "/api/events", ""},
	}
	for _, m := range mutations {
		resp := env.do(t, m.method, m.path, "", m.body)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, "%s %s", m.method, m.path)
	}

	reads := []string{"/api/entries", "/api/chat"}
	for _, path := range reads {
		resp := env.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, resp.Code, path)
		assert.JSONEq(t, `[]`, string(resp.Data), path)
	}
	resp := env.do(t, http.MethodGet, "/api/budget", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `null`, string(resp.Data))
}

func TestValidationAndNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad amount", http.MethodPost, "/api/entries", `{"title":"x","amount":"abc"}`, http.StatusBadRequest},
		{"empty title", http.MethodPost, "/api/entries", `{"title":"  ","amount":"5"}`, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/entries", `{"title":"x","amount":"5","date":"yesterday"}`, http.StatusBadRequest},
		{"bad type", http.MethodPost, "/api/entries", `{"title":"x","amount":"5","type":"gift"}`, http.StatusBadRequest},
		{"bad budget", http.MethodPut, "/api/budget", `{"monthly_budget":"0"}`, http.StatusBadRequest},
		{"bad period", http.MethodGet, "/api/budget?period=2024-13", "", http.StatusBadRequest},
		{"bad window", http.MethodGet, "/api/analytics?window=0", "", http.StatusBadRequest},
		{"empty chat", http.MethodPost, "/api/chat", `{"text":""}`, http.StatusBadRequest},
		{"unknown entry update", http.MethodPut, "/api/entries/missing", `{"title":"x","amount":"5"}`, http.StatusNotFound},
		{"unknown entry delete", http.MethodDelete, "/api/entries/missing", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/api/entries", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "alice", tt.body)
			assert.Equal(t, tt.status, resp.Code, resp.Error)
		})
	}
}

func TestStorageFailureDegrades(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Lunch","amount":"12","date":"2024-03-02"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Empty(t, resp.Notice)

	env.store.failList.Store(true)

	resp = env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Snack","amount":"3","date":"2024-03-03"}`)
	require.Equal(t, http.StatusCreated, resp.Code, "the entry write itself succeeded")
	assert.Equal(t, NoticeOutOfSync, resp.Notice)
	assert.Equal(t, "Snack", decode[entryDTO](t, resp.Data).Title)

	resp = env.do(t, http.MethodGet, "/api/entries", "alice", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, NoticeStale, resp.Notice)
	assert.Len(t, decode[[]entryDTO](t, resp.Data), 1, "last published snapshot")

	resp = env.do(t, http.MethodPut, "/api/budget", "alice", `{"monthly_budget":"100"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	env.store.failList.Store(false)
	resp = env.do(t, http.MethodPost, "/api/budget/recompute", "alice", `{"period":"2024-03"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.do(t, http.MethodGet, "/api/entries", "alice", "")
	assert.Empty(t, resp.Notice)
	assert.Len(t, decode[[]entryDTO](t, resp.Data), 2)
}

func TestAnalyticsCacheInvalidatedByMutation(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Groceries","amount":"60","date":"2024-03-14","category":"Food"}`)
	env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Salary","amount":"1000","date":"2024-03-01","type":"income"}`)

	resp := env.do(t, http.MethodGet, "/api/analytics?period=2024-03&window=7", "alice", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Error)
	report := decode[reportDTO](t, resp.Data)
	assert.Equal(t, "60.00", report.TotalExpense)
	assert.Equal(t, "1000.00", report.TotalIncome)
	assert.Equal(t, "940.00", report.Net)
	assert.Len(t, report.Daily, 7)
	assert.Equal(t, "Food", report.TopCategory)
	assert.Equal(t, 1, env.srv.reports.Size())

	env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Books","amount":"40","date":"2024-03-15","category":"Study"}`)
	assert.Equal(t, 0, env.srv.reports.Size())

	resp = env.do(t, http.MethodGet, "/api/analytics?period=2024-03", "alice", "")
	report = decode[reportDTO](t, resp.Data)
	assert.Equal(t, "100.00", report.TotalExpense)
	require.Len(t, report.Categories, 2)

	resp = env.do(t, http.MethodGet, "/api/analytics?period=2024-03", "bob", "")
	assert.Equal(t, "0.00", decode[reportDTO](t, resp.Data).TotalExpense)
}

func TestAnalyticsReadRacingMutationIsNotCached(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Groceries","amount":"60","date":"2024-03-14","category":"Food"}`)

	// The write lands after the report's entries were read.
	write := func() {
		resp := env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Books","amount":"40","date":"2024-03-15","category":"Study"}`)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Error)
	}
	env.store.afterList.Store(&write)

	resp := env.do(t, http.MethodGet, "/api/analytics?period=2024-03", "alice", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Error)
	assert.Equal(t, "60.00", decode[reportDTO](t, resp.Data).TotalExpense)
	assert.Equal(t, 0, env.srv.reports.Size())

	resp = env.do(t, http.MethodGet, "/api/analytics?period=2024-03", "alice", "")
	assert.Equal(t, "100.00", decode[reportDTO](t, resp.Data).TotalExpense)
	assert.Equal(t, 1, env.srv.reports.Size())
}

func TestChatAndAdvice(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/advice", "alice", `{"period":"2024-03"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Error)
	assert.Equal(t, advice.NoBudgetAdvice, decode[chatDTO](t, resp.Data).Text)

	resp = env.do(t, http.MethodPost, "/api/chat", "alice", `{"text":"How am I doing?"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Error)
	reply := decode[chatDTO](t, resp.Data)
	assert.Equal(t, "Spend less on coffee.", reply.Text)
	assert.False(t, reply.FromUser)

	resp = env.do(t, http.MethodGet, "/api/chat", "alice", "")
	history := decode[[]chatDTO](t, resp.Data)
	require.Len(t, history, 3)
	assert.True(t, history[1].FromUser)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodPost, "/api/entries", "alice", `{"title":"Lunch","amount":"12","date":"2024-03-02"}`)

	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-Owner-ID", "alice")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	next := func() snapshotDTO {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				return decode[snapshotDTO](t, json.RawMessage(data))
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return snapshotDTO{}
	}

	snap := next()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "Lunch", snap.Entries[0].Title)
	assert.Equal(t, "2024-03", snap.Period)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	env.checks["amqp"] = func(context.Context) error { return errors.New("connection refused") }
	resp = env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, string(resp.Data), "connection refused")

	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "smartspend_http_requests_total")
}

func TestMiddlewareChain(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitPerMinute: 2})

	req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	req.Header.Set("X-Owner-ID", "alice")
	req.Header.Set(trace.RequestIDHeader, "client-42")
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-42", rec.Header().Get(trace.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	env.do(t, http.MethodGet, "/api/entries", "alice", "")
	resp := env.do(t, http.MethodGet, "/api/entries", "alice", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	resp = env.do(t, http.MethodGet, "/api/entries", "bob", "")
	assert.Equal(t, http.StatusOK, resp.Code, "limits are per owner")

	resp = env.do(t, http.MethodGet, "/healthz", "alice", "")
	assert.Equal(t, http.StatusOK, resp.Code, "health is not rate limited")
}
