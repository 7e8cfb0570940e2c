package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mission-control/internal/models"
	"mission-control/internal/objectsource"
	"mission-control/internal/ratelimit"
	"mission-control/internal/service"
	"mission-control/internal/store"
)

var fixedNow = time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter, opts ...service.Option) *testServer {
	t.Helper()
	opts = append([]service.Option{service.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := service.New(store.NewMemory(), zerolog.Nop(), opts...)
	srv := httptest.NewServer(New(svc, limiter, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

type response struct {
	Mode  string          `json:"mode"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) (int, response) {
	ts.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var out response
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func decodeData[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

var taskBody = map[string]any{
	"title":     "Wire memory search",
	"ownerType": "agent",
	"ownerId":   "codex",
	"priority":  "high",
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodGet, "/api/mission-control/tasks", nil, nil)

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, nil)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	assert.Equal(t, "memory", resp.Mode)
	task := decodeData[models.Task](t, resp)
	assert.Equal(t, models.TaskBacklog, task.Status)

	base := "/api/mission-control/tasks/" + task.TaskID
	code, resp = ts.do(http.MethodPost, base+"/transition", map[string]any{"nextStatus": "ready"}, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, models.TaskReady, decodeData[models.Task](t, resp).Status)

	code, resp = ts.do(http.MethodPost, base+"/transition", map[string]any{"nextStatus": "done"}, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Error, "invalid task transition")

	code, resp = ts.do(http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.TaskReady, decodeData[models.Task](t, resp).Status)

	code, resp = ts.do(http.MethodGet, base+"/events", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.TaskEvent](t, resp), 2)

	code, resp = ts.do(http.MethodGet, "/api/mission-control/tasks?status=ready", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.Task](t, resp), 1)

	code, _ = ts.do(http.MethodGet, "/api/mission-control/tasks?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"malformed json", "/api/mission-control/tasks", "{"},
		{"unknown field", "/api/mission-control/tasks", map[string]any{"title": "x", "ownerType": "user", "ownerId": "u", "priority": "low", "colour": "red"}},
		{"missing title", "/api/mission-control/tasks", map[string]any{"ownerType": "user", "ownerId": "u", "priority": "low"}},
		{"bad priority", "/api/mission-control/tasks", map[string]any{"title": "x", "ownerType": "user", "ownerId": "u", "priority": "urgent"}},
		{"bad timezone", "/api/mission-control/jobs", map[string]any{"name": "n", "scheduleKind": "recurring", "scheduleExpr": "0 * * * *", "timezone": "Mars/Base", "payloadKind": "k", "payloadJson": "{}"}},
		{"empty ingest body", "/api/mission-control/memory/ingest", map[string]any{"sourcePath": "p", "sourceType": "t", "title": "t", "body": ""}},
		{"empty transition", "/api/mission-control/tasks/task_x/transition", map[string]any{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := ts.do(http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/api/mission-control/tasks/task_missing",
		"/api/mission-control/tasks/task_missing/events",
		"/api/mission-control/jobs/job_missing",
		"/api/mission-control/jobs/job_missing/runs",
		"/api/mission-control/memory/docs/memdoc_missing",
	} {
		code, resp := ts.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.Contains(t, resp.Error, "not found", path)
	}

	code, _ := ts.do(http.MethodPost, "/api/mission-control/tasks/task_missing/transition", map[string]any{"nextStatus": "ready"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(http.MethodPost, "/api/mission-control/jobs/job_missing/run-now", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJobRunNow(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(http.MethodPost, "/api/mission-control/jobs", map[string]any{
		"name":         "Daily memory refresh",
		"scheduleKind": "recurring",
		"scheduleExpr": "0 13 * * *",
		"timezone":     "UTC",
		"payloadKind":  "memory_refresh",
		"payloadJson":  `{"source":"memory_notes"}`,
	}, nil)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	job := decodeData[models.Job](t, resp)
	assert.True(t, job.Enabled)

	base := "/api/mission-control/jobs/" + job.JobID

	// An empty body takes the default key.
	code, resp = ts.do(http.MethodPost, base+"/run-now", nil, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	first := decodeData[models.JobRun](t, resp)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, "run:"+job.JobID+":2026-02-18T10:00:00.000Z:1", first.IdempotencyKey)

	body := map[string]any{"idempotencyKey": "manual-1"}
	code, resp = ts.do(http.MethodPost, base+"/run-now", body, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	second := decodeData[models.JobRun](t, resp)
	assert.Equal(t, 2, second.Attempt)

	code, resp = ts.do(http.MethodPost, base+"/run-now", body, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, second.RunID, decodeData[models.JobRun](t, resp).RunID)

	code, resp = ts.do(http.MethodGet, base+"/runs", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.JobRun](t, resp), 2)

	code, resp = ts.do(http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, code)
	withRun := decodeData[models.JobWithLatestRun](t, resp)
	require.NotNil(t, withRun.LatestRun)
	assert.Equal(t, second.RunID, withRun.LatestRun.RunID)

	code, resp = ts.do(http.MethodGet, "/api/mission-control/jobs", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.JobWithLatestRun](t, resp), 1)
}

func TestSetJobEnabled(t *testing.T) {
	ts := newTestServer(t, nil)
	code, resp := ts.do(http.MethodPost, "/api/mission-control/jobs", map[string]any{
		"name": "n", "scheduleKind": "one_shot", "scheduleExpr": "2026-03-01T00:00:00Z",
		"timezone": "UTC", "payloadKind": "noop", "payloadJson": "{}",
	}, nil)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	job := decodeData[models.Job](t, resp)
	path := "/api/mission-control/jobs/" + job.JobID + "/enabled"

	code, _ = ts.do(http.MethodPost, path, map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(http.MethodPost, path, map[string]any{"enabled": false}, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.False(t, decodeData[models.Job](t, resp).Enabled)
}

func TestMemoryRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ingest := map[string]any{
		"sourcePath": "memory_notes/MEMORY.md",
		"sourceType": "markdown",
		"title":      "Mission Control notes",
		"body":       "Memory search should return source citations.",
	}

	code, resp := ts.do(http.MethodPost, "/api/mission-control/memory/ingest", ingest, nil)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	doc := decodeData[models.MemoryDoc](t, resp)
	assert.Equal(t, models.IngestIndexed, doc.IngestStatus)

	code, resp = ts.do(http.MethodPost, "/api/mission-control/memory/ingest", ingest, nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, doc.DocID, decodeData[models.MemoryDoc](t, resp).DocID)

	code, resp = ts.do(http.MethodGet, "/api/mission-control/memory/search?q=Source+Citations", nil, nil)
	require.Equal(t, http.StatusOK, code)
	results := decodeData[[]models.MemorySearchResult](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Score)
	assert.Equal(t, "memory_notes/MEMORY.md", results[0].SourcePath)

	code, resp = ts.do(http.MethodGet, "/api/mission-control/memory/docs/"+doc.DocID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, doc.DocID, decodeData[models.MemoryDoc](t, resp).DocID)

	code, resp = ts.do(http.MethodGet, "/api/mission-control/memory/docs/"+doc.DocID+"/chunks", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.MemoryChunk](t, resp), 1)
}

type stubObjects struct {
	body []byte
	err  error
}

func (s stubObjects) Fetch(context.Context, string, string) ([]byte, error) {
	return s.body, s.err
}

func TestIngestObjectStatusCodes(t *testing.T) {
	body := map[string]any{"bucket": "notes", "key": "team/MEMORY.md"}
	path := "/api/mission-control/memory/ingest-object"

	code, _ := newTestServer(t, nil).do(http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ts := newTestServer(t, nil, service.WithObjectSource(stubObjects{err: objectsource.ErrObjectNotFound}))
	code, _ = ts.do(http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusNotFound, code)

	ts = newTestServer(t, nil, service.WithObjectSource(stubObjects{err: errors.New("connection reset")}))
	code, _ = ts.do(http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	ts = newTestServer(t, nil, service.WithObjectSource(stubObjects{body: []byte("Team notes.")}))
	code, resp := ts.do(http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	doc := decodeData[models.MemoryDoc](t, resp)
	assert.Equal(t, "s3://notes/team/MEMORY.md", doc.SourcePath)
}

func TestActorHeadersReachActivity(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, map[string]string{
		"X-Actor-Id":    "codex",
		"X-Actor-Type":  "agent",
		"Authorization": "Bearer token",
	})
	require.Equal(t, http.StatusCreated, code)
	code, _ = ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, map[string]string{"X-User-Id": "ana"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, map[string]string{"X-Actor-Type": "robot"})
	require.Equal(t, http.StatusCreated, code)

	code, resp := ts.do(http.MethodGet, "/api/mission-control/activity?entityType=task", nil, nil)
	require.Equal(t, http.StatusOK, code)
	items := decodeData[[]models.ActivityItem](t, resp)
	require.Len(t, items, 3)

	// Newest first.
	assert.Equal(t, models.OwnerUser, items[0].ActorType)
	assert.Equal(t, "local_operator", items[0].ActorID)
	assert.Equal(t, models.AuthInternalSystem, items[0].AuthSource)

	assert.Equal(t, "ana", items[1].ActorID)

	assert.Equal(t, models.OwnerAgent, items[2].ActorType)
	assert.Equal(t, "codex", items[2].ActorID)
	assert.Equal(t, models.AuthConvexUser, items[2].AuthSource)
}

func TestActivityQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		code, _ := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := ts.do(http.MethodGet, "/api/mission-control/activity?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]models.ActivityItem](t, resp), 2)

	code, _ = ts.do(http.MethodGet, "/api/mission-control/activity?limit=many", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(http.MethodGet, "/api/mission-control/activity?limit=501", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	ts := newTestServer(t, ratelimit.NewLocalLimiter(1, 0.0001))

	code, _ := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, nil)
	require.Equal(t, http.StatusCreated, code)
	code, resp := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limited", resp.Error)

	// Another actor has its own bucket.
	code, _ = ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, map[string]string{"X-Actor-Id": "other"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = ts.do(http.MethodGet, "/api/mission-control/tasks", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, float64, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimiterFailure(t *testing.T) {
	ts := newTestServer(t, failingLimiter{})
	code, resp := ts.do(http.MethodPost, "/api/mission-control/tasks", taskBody, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "rate limit error", resp.Error)
}
