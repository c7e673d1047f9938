package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resilient/internal/client"
	"resilient/internal/config"
	"resilient/internal/connectivity"
	"resilient/internal/models"
	"resilient/internal/retry"
	"resilient/internal/storage"
	"resilient/internal/transport"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testEnv struct {
	src    *connectivity.Manual
	client *client.Client
	server *HTTPServer
	ts     *httptest.Server
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"echo":       string(body),
			"query":      r.URL.RawQuery,
			"request_id": r.Header.Get(requestIDHeader),
		})
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestEnv(t *testing.T, cfg config.AdminConfig, tr transport.Transport, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{src: connectivity.NewManual(true)}

	c, err := client.New(client.Options{
		Transport: tr,
		Source:    env.src,
		Retry:     retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Notifier:  client.NotifierFunc(func(context.Context, client.Notification) {}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	env.client = c

	env.server = NewHTTPServer(cfg, c, opts...)
	env.ts = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{Auth: config.AdminAuthConfig{Enabled: true}}, transport.NewHTTPTransport(newUpstream(t).URL))

	resp := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestReadyz(t *testing.T) {
	up := newUpstream(t)
	healthy := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(up.URL),
		WithReadiness(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, healthy.do(t, http.MethodGet, "/readyz", nil, nil).StatusCode)

	broken := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(up.URL),
		WithReadiness(func(context.Context) error { return errors.New("store down") }))
	assert.Equal(t, http.StatusServiceUnavailable, broken.do(t, http.MethodGet, "/readyz", nil, nil).StatusCode)
}

func TestAuth(t *testing.T) {
	cfg := config.AdminConfig{
		Auth: config.AdminAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Name: "dashboard", Permissions: []string{permReadQueue}},
				{Key: "admin", Name: "ops"},
			},
		},
	}
	env := newTestEnv(t, cfg, transport.NewHTTPTransport(newUpstream(t).URL))

	t.Run("MissingKey", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/queue", nil, nil).StatusCode)
	})
	t.Run("InvalidKey", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/queue", nil, map[string]string{"X-Api-Key": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
	t.Run("ReadAllowed", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/queue", nil, map[string]string{"X-Api-Key": "reader"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
	t.Run("WriteDenied", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/v1/queue", nil, map[string]string{"X-Api-Key": "reader"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
	t.Run("RelayDenied", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/relay/posts", nil, map[string]string{"X-Api-Key": "reader"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
	t.Run("EmptyPermissionsAllowAll", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/queue/sync", nil, map[string]string{"X-Api-Key": "admin"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRequiredPermission(t *testing.T) {
	cases := map[string]struct {
		method, path, want string
	}{
		"status": {http.MethodGet, "/api/v1/queue", permReadQueue},
		"clear":  {http.MethodDelete, "/api/v1/queue", permWriteQueue},
		"sync":   {http.MethodPost, "/api/v1/queue/sync", permWriteQueue},
		"export": {http.MethodGet, "/api/v1/queue/export", permReadQueue},
		"relay":  {http.MethodPost, "/relay/posts", permRelay},
		"health": {http.MethodGet, "/healthz", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, tc.path, http.NoBody)
			assert.Equal(t, tc.want, requiredPermission(r))
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.AdminConfig{RateLimit: config.RateLimitConfig{RPS: 1, Burst: 1}}
	env := newTestEnv(t, cfg, transport.NewHTTPTransport(newUpstream(t).URL))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/stats", nil, nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/v1/stats", nil, nil).StatusCode)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))

	resp := env.do(t, http.MethodOptions, "/api/v1/queue", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)

	ctx := context.Background()
	_, err := env.client.Post(ctx, "/posts", map[string]string{"title": "offline"})
	require.NoError(t, err)
	_, err = env.client.Patch(ctx, "/posts/1", nil)
	require.NoError(t, err)

	var status models.QueueStatus
	decode(t, env.do(t, http.MethodGet, "/api/v1/queue", nil, nil), &status)
	assert.False(t, status.Online)
	assert.Equal(t, 2, status.Length)
	assert.Equal(t, models.PriorityNormal, status.Entries[0].Priority)

	var offlineSync models.SyncResult
	decode(t, env.do(t, http.MethodPost, "/api/v1/queue/sync", nil, nil), &offlineSync)
	assert.Equal(t, models.SyncResult{}, offlineSync)

	resp := env.do(t, http.MethodGet, "/api/v1/queue/sync", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)
	_, err := env.client.Post(context.Background(), "/posts", map[string]int{"n": 1})
	require.NoError(t, err)
	env.src.Set(true)

	var res models.SyncResult
	decode(t, env.do(t, http.MethodPost, "/api/v1/queue/sync", nil, nil), &res)
	assert.Equal(t, models.SyncResult{Success: 1}, res)
	assert.Zero(t, env.client.QueueStatus().Length)
}

func TestClearEndpoint(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)
	_, err := env.client.Get(context.Background(), "/posts")
	require.NoError(t, err)

	var body map[string]int
	decode(t, env.do(t, http.MethodDelete, "/api/v1/queue", nil, nil), &body)
	assert.Equal(t, 1, body["cleared"])
	assert.Zero(t, env.client.QueueStatus().Length)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	_, err := env.client.Post(context.Background(), "/posts", nil)
	require.NoError(t, err)

	var stats client.Stats
	decode(t, env.do(t, http.MethodGet, "/api/v1/stats", nil, nil), &stats)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)
	_, err := env.client.Post(context.Background(), "/auth/login", map[string]string{"user": "a"})
	require.NoError(t, err)
	_, err = env.client.Get(context.Background(), "/posts")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/api/v1/queue/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, "POST", rows[1][1])
	assert.Equal(t, "/auth/login", rows[1][2])
	assert.Equal(t, "high", rows[1][3])
	assert.Equal(t, "/posts", rows[2][2])
}

func TestExportTruncatesLargeBody(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)
	big := map[string]string{"blob": strings.Repeat("x", 100_000)}
	_, err := env.client.Post(context.Background(), "/uploads", big)
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/api/v1/queue/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "/uploads", rows[1][2])
	assert.Len(t, rows[1][6], excelize.TotalCellChars)
}

func TestRelayOnline(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))

	resp := env.do(t, http.MethodPost, "/relay/posts?draft=1", []byte(`{"title":"hi"}`), map[string]string{requestIDHeader: "req-1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(requestIDHeader))

	var body map[string]string
	decode(t, resp, &body)
	assert.JSONEq(t, `{"title":"hi"}`, body["echo"])
	assert.Equal(t, "draft=1", body["query"])
	assert.Equal(t, "req-1", body["request_id"])
}

func TestRelayOfflineQueues(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	env.src.Set(false)

	resp := env.do(t, http.MethodPut, "/relay/posts/1", []byte(`{"title":"later"}`), nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Queued      bool   `json:"queued"`
		OperationID string `json:"operation_id"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Queued)
	assert.Equal(t, env.client.QueueStatus().Entries[0].ID, body.OperationID)
}

func TestRelayErrors(t *testing.T) {
	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))

	t.Run("UpstreamStatus", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/relay/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var body map[string]string
		decode(t, resp, &body)
		assert.Equal(t, "NOT_FOUND", body["code"])
		assert.NotEmpty(t, body["message"])
	})

	t.Run("InvalidBody", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/relay/posts", []byte(`not json`), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("MissingTarget", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/relay/", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRelayNetworkError(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(url))
	resp := env.do(t, http.MethodGet, "/relay/posts", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "NETWORK_ERROR", body["code"])
}

func TestDeadLettersEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	dead := storage.NewRedisDeadLetters(rdb, "test:deadletter")
	require.NoError(t, dead.Push(context.Background(), models.QueuedOperation{
		ID: "op-1", Method: models.MethodPost, Target: "/posts", Priority: models.PriorityNormal, Retries: 3,
	}))

	env := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL), WithDeadLetters(dead))

	var body struct {
		Operations []models.QueuedOperation `json:"operations"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/deadletters?limit=10", nil, nil), &body)
	require.Len(t, body.Operations, 1)
	assert.Equal(t, "op-1", body.Operations[0].ID)

	resp := env.do(t, http.MethodGet, "/api/v1/deadletters?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	plain := newTestEnv(t, config.AdminConfig{}, transport.NewHTTPTransport(newUpstream(t).URL))
	assert.Equal(t, http.StatusNotFound, plain.do(t, http.MethodGet, "/api/v1/deadletters", nil, nil).StatusCode)
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/relay", endpointLabel("/relay/posts/1"))
	assert.Equal(t, "/api/v1/queue", endpointLabel("/api/v1/queue"))
	assert.Equal(t, "other", endpointLabel("/favicon.ico"))
}
