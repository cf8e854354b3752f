package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/labelwire/internal/cache"
	"github.com/ppiankov/labelwire/internal/config"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/worker"
)

const ontologyJSON = `{
  "tools": [{"name": "car", "tool": "rectangle"}],
  "classifications": [{"name": "caption", "type": "text"}]
}`

func newTestClient(t *testing.T, h http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig().Platform
	cfg.BaseURL = srv.URL + "/api"
	cfg.APIKey = "secret"
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return c
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := sleepFunc
	sleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &waits
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.PlatformConfig{})
	assert.Error(t, err)
}

func TestFetchOntology_Cached(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/projects/p1/ontology", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "labelwire/")
		_, _ = io.WriteString(w, ontologyJSON)
	}), WithCache(cache.NewMemoryCache(time.Minute, time.Minute), 0))

	for range 2 {
		o, err := c.FetchOntology(context.Background(), "p1")
		require.NoError(t, err)
		_, ok := o.LookupByName("car")
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOntology_DropsCorruptCacheEntry(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ontologyJSON)
	}), WithCache(mem, 0))

	key := cache.Key(c.baseURL.String(), "ontology", "p1")
	require.NoError(t, mem.Set(key, []byte("tools: [oops"), 0))

	_, err := c.FetchOntology(context.Background(), "p1")
	require.NoError(t, err)
	doc, ok := mem.Get(key)
	require.True(t, ok)
	assert.JSONEq(t, ontologyJSON, string(doc))
}

func TestFetchOntology_InvalidDocument(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tools":[{"name":"car","tool":"hexagon"}]}`)
	}))
	_, err := c.FetchOntology(context.Background(), "p1")
	assert.ErrorContains(t, err, "parse ontology")
}

func TestFetchDataRowRefs_Pages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/p1/data-rows", r.URL.Path)
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = io.WriteString(w, `{"dataRows":[{"id":"dr1","globalKey":"img-1"},{"id":"dr2"}],"next":"c2"}`)
		case "c2":
			_, _ = io.WriteString(w, `{"dataRows":[{"id":"dr3","globalKey":"img-3"}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))

	rows, err := c.FetchDataRowRefs(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.True(t, rows.Contains(model.DataRowID("dr2")))
	assert.True(t, rows.Contains(model.DataRowGlobalKey("img-3")))
	assert.False(t, rows.Contains(model.DataRowGlobalKey("dr1")))
}

func TestPostNDJSON(t *testing.T) {
	payload := "{\"uuid\":\"a\"}\n{\"uuid\":\"b\"}\n"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/imports", r.URL.Path)
		assert.Equal(t, "batch 1", r.URL.Query().Get("name"))
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, string(body))
		_ = json.NewEncoder(w).Encode(UploadHandle{ID: "imp-1", Status: "QUEUED"})
	}))

	h, err := c.PostNDJSON(context.Background(), strings.NewReader(payload), "batch 1")
	require.NoError(t, err)
	assert.Equal(t, &UploadHandle{ID: "imp-1", Name: "batch 1", Status: "QUEUED"}, h)
}

func TestPostNDJSON_NotRetried(t *testing.T) {
	noSleep(t)
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))

	_, err := c.PostNDJSON(context.Background(), strings.NewReader("{}\n"), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "busy", se.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetNDJSON_RelativeURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exports/e1.ndjson", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, "{\"uuid\":\"a\"}\n")
	}))

	rc, err := c.GetNDJSON(context.Background(), "exports/e1.ndjson")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{\"uuid\":\"a\"}\n", string(body))
}

func TestGetWithRetry_TransientThenSuccess(t *testing.T) {
	waits := noSleep(t)
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, ontologyJSON)
		}
	}))

	_, err := c.FetchOntology(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 7 * time.Second}, *waits)
}

func TestGetWithRetry_GivesUp(t *testing.T) {
	waits := noSleep(t)
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.FetchOntology(context.Background(), "p1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *waits)
}

func TestGetWithRetry_PermanentFailure(t *testing.T) {
	noSleep(t)
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchDataRowRefs(context.Background(), "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_UsesLimiter(t *testing.T) {
	lim := worker.NewLimiter(0.001, 1)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ontologyJSON)
	}), WithLimiter(lim))

	_, err := c.FetchOntology(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchOntology(ctx, "p1")
	assert.ErrorContains(t, err, "rate limit")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&StatusError{StatusCode: 503}))
	assert.True(t, isRetryable(&StatusError{StatusCode: 429}))
	assert.False(t, isRetryable(&StatusError{StatusCode: 400}))
	assert.True(t, isRetryable(fmt.Errorf("dial: connection refused")))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(fmt.Errorf("bad request body")))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))
}

func TestClient_RetryAfterPausesHost(t *testing.T) {
	noSleep(t)
	var hits atomic.Int32
	lim := worker.NewLimiter(1000, 10)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}), WithLimiter(lim))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchOntology(ctx, "p1")
	assert.ErrorContains(t, err, "rate limit")
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, lim.Allow(c.baseURL))
}
