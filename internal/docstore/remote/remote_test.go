package remote

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func fastClient(url string, retries int) *Client {
	c := NewClient(ClientConfig{URL: url, Token: "secret", MaxRetries: retries, Logger: quiet()})
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestMemory_ApplyReturnsFullListPerTouchedKind(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	res, err := m.Apply(ctx, queue.Batch{
		"tasks": {Insert: []json.RawMessage{raw(`{"id":"b"}`), raw(`{"id":"a"}`)}},
	})
	require.NoError(t, err)
	require.Len(t, res["tasks"], 2)
	assert.JSONEq(t, `{"id":"a"}`, string(res["tasks"][0]))

	res, err = m.Apply(ctx, queue.Batch{
		"tasks": {
			Update: []json.RawMessage{raw(`{"id":"a","title":"x"}`)},
			Delete: []json.RawMessage{raw(`{"id":"b"}`)},
		},
		"notes": {Get: true},
	})
	require.NoError(t, err)
	require.Len(t, res["tasks"], 1)
	assert.JSONEq(t, `{"id":"a","title":"x"}`, string(res["tasks"][0]))
	assert.Contains(t, res, "notes")
	assert.Empty(t, res["notes"])
}

func TestMemory_RejectsBatchAtomically(t *testing.T) {
	m := NewMemory()
	_, err := m.Apply(context.Background(), queue.Batch{
		"tasks": {Insert: []json.RawMessage{raw(`{"id":"ok"}`), raw(`{"title":"no id"}`)}},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len("tasks"))
}

func TestMemory_OnChange(t *testing.T) {
	m := NewMemory()
	var got [][]string
	m.OnChange(func(kinds []string) { got = append(got, kinds) })

	_, err := m.Apply(context.Background(), queue.FetchAll("tasks"))
	require.NoError(t, err)
	assert.Empty(t, got, "a pure fetch changes nothing")

	_, err = m.Apply(context.Background(), queue.Batch{
		"notes": {Insert: []json.RawMessage{raw(`{"id":"n"}`)}},
		"tasks": {Insert: []json.RawMessage{raw(`{"id":"t"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"notes", "tasks"}}, got)
}

func TestMemory_SeedReplacesKindSilently(t *testing.T) {
	m := NewMemory()
	calls := 0
	m.OnChange(func([]string) { calls++ })

	require.NoError(t, m.Seed("tasks", []json.RawMessage{raw(`{"id":"a"}`), raw(`{"id":"b"}`)}))
	require.NoError(t, m.Seed("tasks", []json.RawMessage{raw(`{"id":"c"}`)}))
	assert.Equal(t, 1, m.Len("tasks"))
	assert.JSONEq(t, `{"id":"c"}`, string(m.List("tasks")[0]))
	assert.Zero(t, calls)

	assert.Error(t, m.Seed("notes", []json.RawMessage{raw(`{"body":"no id"}`)}))
	assert.Equal(t, 0, m.Len("notes"))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, SyncPath, r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"tasks":[{"id":"a"}]}`))
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL, 3).Apply(context.Background(), queue.FetchAll("tasks"))
	require.NoError(t, err)
	assert.Len(t, res["tasks"], 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 2).Apply(context.Background(), queue.FetchAll("tasks"))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusUnprocessableEntity, "invalid_batch", "bad")
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 3).Apply(context.Background(), queue.FetchAll("tasks"))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "invalid_batch", httpErr.Code)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", io.ErrUnexpectedEOF, true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"404", &HTTPError{StatusCode: 404}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	c := NewClient(ClientConfig{Logger: quiet()})

	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 200*time.Millisecond, c.retryDelay(2, ""))
	assert.Equal(t, 2*time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "1"))
	assert.Equal(t, 2*time.Second, c.retryDelay(1, "120"))
}

func TestHandler_ClientRoundTrip(t *testing.T) {
	mem := NewMemory()
	h := NewHandler(HandlerConfig{Remote: mem, Token: "secret", Logger: quiet()})
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := fastClient(srv.URL, 0).Apply(context.Background(), queue.Batch{
		"tasks": {Insert: []json.RawMessage{raw(`{"id":"a"}`)}},
	})
	require.NoError(t, err)
	assert.Len(t, res["tasks"], 1)
	assert.Equal(t, 1, mem.Len("tasks"))

	anon := NewClient(ClientConfig{URL: srv.URL, Logger: quiet()})
	_, err = anon.Apply(context.Background(), queue.FetchAll("tasks"))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestHandler_RejectsMalformedBatch(t *testing.T) {
	h := NewHandler(HandlerConfig{Remote: NewMemory(), Logger: quiet()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, SyncPath, strings.NewReader(`{`))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushListener_ReceivesChanges(t *testing.T) {
	mem := NewMemory()
	h := NewHandler(HandlerConfig{Remote: mem, Logger: quiet()})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	var mu sync.Mutex
	var pushed [][]string
	l := NewPushListener(PushConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + PushPath,
		OnPush: func(kinds []string) {
			mu.Lock()
			defer mu.Unlock()
			pushed = append(pushed, kinds)
		},
		MinBackoff: 10 * time.Millisecond,
		Logger:     quiet(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	_, err := mem.Apply(context.Background(), queue.Batch{
		"tasks": {Insert: []json.RawMessage{raw(`{"id":"a"}`)}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pushed) == 1
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"tasks"}, pushed[0])
	mu.Unlock()
}
