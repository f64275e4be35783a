package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"horse.fit/storymerge/internal/db"
	"horse.fit/storymerge/internal/dedup"
	"horse.fit/storymerge/internal/ingest"
	"horse.fit/storymerge/internal/metrics"
)

var testNow = time.Date(2025, 6, 12, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	pool    *db.Pool
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	pool, err := db.Open(context.Background(), sqlite.Open("file:"+name+"?mode=memory&cache=shared"), db.PoolOptions{
		LogLevel: "silent",
		MaxConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	recorder := metrics.NewRecorder()
	engine, err := dedup.NewEngine(dedup.Options{
		Store:      pool.Stories(),
		Decisions:  pool,
		Recorder:   recorder,
		Thresholds: dedup.DefaultThresholds(),
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	server := NewServer(Deps{
		Store:    pool,
		Ingester: ingest.NewService(engine, ingest.Options{Recorder: recorder, Logger: zerolog.Nop()}),
		Batch:    engine,
		Metrics:  recorder.Handler(),
		Now:      func() time.Time { return testNow },
	}, zerolog.Nop(), Options{})

	return &testEnv{pool: pool, handler: server.Handler()}
}

func (env *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var resp jsendResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

const bflPayload = `{
	"payload_version": "v1",
	"source": "TechCrunch",
	"url": "https://techcrunch.com/2025/06/12/black-forest-labs-funding",
	"headline": "Black Forest Labs raises $300M Series B led by Andreessen Horowitz",
	"content": "<p>Black Forest Labs, the German startup behind the Flux image models, raised $300 million.</p>",
	"content_format": "html",
	"published_at": "2025-06-12T09:00:00Z",
	"impact_score": 60
}`

const bflMirrorPayload = `{
	"payload_version": "v1",
	"source": "TechCrunch RSS",
	"url": "http://www.techcrunch.com/2025/06/12/black-forest-labs-funding/?utm_source=rss",
	"headline": "Black Forest Labs raises $300M",
	"published_at": "2025-06-12T10:00:00Z"
}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", resp.Status)
}

func TestIngestThenFold(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/ingest", bflPayload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := resp.Data.(map[string]any)
	require.Equal(t, "inserted", data["kind"])
	storyID := data["story_id"].(string)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/ingest", bflMirrorPayload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data = resp.Data.(map[string]any)
	require.Equal(t, "folded", data["kind"])
	require.Equal(t, "normalized_url", data["signal"])
	require.Equal(t, storyID, data["story_id"])

	rec, resp = env.do(t, http.MethodGet, "/api/v1/stories/"+storyID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	story := resp.Data.(map[string]any)["story"].(map[string]any)
	require.Len(t, story["sources"], 2)
	require.Equal(t, "Black Forest Labs, the German startup behind the Flux image models, raised $300 million.", story["content"])

	rec, resp = env.do(t, http.MethodGet, "/api/v1/stories?page_size=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data.(map[string]any)["items"], 1)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/stats?day=2025-06-12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := resp.Data.(map[string]any)
	require.Equal(t, float64(1), stats["totals"].(map[string]any)["multi_source"])

	rec, _ = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `storymerge_dedup_decisions_total{kind="folded",mode="ingest",signal="normalized_url"} 1`)
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/ingest", `{"payload_version":"v1","source":"X","url":"https://x.example/a"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "fail", resp.Status)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/ingest", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoryDetailNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/stories/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "fail", resp.Status)
}

func TestStoriesValidatesPaging(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/stories?page=0&page_size=1000", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := resp.Data.(map[string]any)["validation_errors"].(map[string]any)
	require.Contains(t, errs, "page")
	require.Contains(t, errs, "page_size")
}

func TestBatchDryRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := env.pool.Stories()

	published := testNow.Add(-4 * time.Hour)
	for _, story := range []dedup.Story{
		{ID: "a", Headline: "OpenAI launches GPT-5 model for developers", Content: "OpenAI released GPT-5 to developers through its API today.", URL: "https://a.example/gpt5", PublishedAt: published, IngestedAt: published, ImpactScore: 50},
		{ID: "b", Headline: "OpenAI launches GPT-5 model for developers worldwide", Content: "OpenAI released GPT-5 to developers through its API today.", URL: "https://b.example/gpt5", PublishedAt: published.Add(-time.Hour), IngestedAt: published, ImpactScore: 40},
	} {
		_, err := store.Insert(ctx, story)
		require.NoError(t, err)
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/dedup/batch?dry_run=true&limit=50", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := resp.Data.(map[string]any)
	require.Equal(t, true, report["dry_run"])
	require.Equal(t, float64(2), report["scanned"])
	require.Equal(t, float64(1), report["merged"])
	decisions := report["decisions"].([]any)
	require.Len(t, decisions, 1)
	require.Equal(t, "would_merge", decisions[0].(map[string]any)["kind"])

	loser, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.False(t, loser.IsDuplicate)
	audited, err := env.pool.ListDecisionsForStory(ctx, "a", 10)
	require.NoError(t, err)
	require.Empty(t, audited)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/dedup/batch?dry_run=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingBatch struct{}

func (failingBatch) RunBatch(context.Context, dedup.BatchOptions) (dedup.BatchReport, error) {
	return dedup.BatchReport{Scanned: 4, Merged: 1}, errors.New("store down")
}

func TestBatchFailureReturnsPartialReport(t *testing.T) {
	server := NewServer(Deps{Store: nil, Batch: failingBatch{}}, zerolog.Nop(), Options{})
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dedup/batch", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp jsendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
	require.Equal(t, float64(1), resp.Data.(map[string]any)["merged"])
}

func TestParseDay(t *testing.T) {
	got, err := parseDay("", time.Date(2025, 6, 12, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDay("12/06/2025", testNow)
	require.Error(t, err)
}
