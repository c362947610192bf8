package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/index"
	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/pubsub"
	"github.com/alfredjeanlab/relaymux/internal/server"
	"github.com/alfredjeanlab/relaymux/internal/watermark"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	query       url.Values
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.Query()
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler, token string) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	return NewHTTPClient(srv.URL+"/", token), srv
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c, srv := newTestClient(h, "tok")
	defer srv.Close()

	got, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got != "ok" {
		t.Errorf("status = %q, want ok", got)
	}
	if h.method != http.MethodGet || h.path != "/v1/health" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
}

func TestHTTPClient_Query(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[{"id":"a","pubkey":"alice","kind":1,"created_at":5,"tags":[],"content":"x"}]}`}
	c, srv := newTestClient(h, "")
	defer srv.Close()

	filter := model.Filter{Kinds: []int{1}, Authors: []string{"alice"}, Since: model.Int64(3)}
	evs, err := c.Query(context.Background(), filter)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(evs) != 1 || evs[0].ID != "a" || evs[0].Author != "alice" {
		t.Fatalf("events = %+v", evs)
	}
	if h.path != "/v1/events" {
		t.Errorf("path = %q", h.path)
	}
	if got := h.query.Get("filter"); got != `{"authors":["alice"],"kinds":[1],"since":3}` {
		t.Errorf("filter param = %q", got)
	}
	if h.auth != "" {
		t.Errorf("no token configured, got Authorization %q", h.auth)
	}
}

func TestHTTPClient_Publish(t *testing.T) {
	for _, tc := range []struct {
		name      string
		broadcast bool
		wantQuery string
	}{
		{"Local", false, ""},
		{"Broadcast", true, "true"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{statusCode: http.StatusAccepted, responseBody: `{"id":"a","relays":3}`}
			c, srv := newTestClient(h, "")
			defer srv.Close()

			res, err := c.Publish(context.Background(), &model.Event{ID: "a", Author: "alice", Kind: 1}, tc.broadcast)
			if err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if res.ID != "a" || res.Relays != 3 {
				t.Errorf("result = %+v", res)
			}
			if h.method != http.MethodPost || h.contentType != "application/json" {
				t.Errorf("request = %s %q", h.method, h.contentType)
			}
			if got := h.query.Get("broadcast"); got != tc.wantQuery {
				t.Errorf("broadcast = %q, want %q", got, tc.wantQuery)
			}
			if !strings.Contains(h.body, `"pubkey":"alice"`) {
				t.Errorf("body = %s", h.body)
			}
		})
	}
}

func TestHTTPClient_Flags(t *testing.T) {
	h := &testHandler{responseBody: `{"logging_enabled":true,"use_specialized_relay_subset":false,"use_external_pool":true}`}
	c, srv := newTestClient(h, "")
	defer srv.Close()

	got, err := c.SetFlags(context.Background(), flags.Flags{LoggingEnabled: true, UseExternalPool: true})
	if err != nil {
		t.Fatalf("SetFlags: %v", err)
	}
	if !got.LoggingEnabled || !got.UseExternalPool {
		t.Errorf("flags = %+v", got)
	}
	if h.method != http.MethodPut || h.path != "/v1/flags" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
}

func TestHTTPClient_Relays(t *testing.T) {
	h := &testHandler{responseBody: `{"relays":[{"relay":"nats://a:4222","connected":true,"event_count":4}]}`}
	c, srv := newTestClient(h, "")
	defer srv.Close()

	relays, err := c.Relays(context.Background(), 90)
	if err != nil {
		t.Fatalf("Relays: %v", err)
	}
	if len(relays) != 1 || relays[0].Relay != "nats://a:4222" || relays[0].EventCount != 4 {
		t.Fatalf("relays = %+v", relays)
	}
	if h.query.Get("stale_threshold_secs") != "90" {
		t.Errorf("query = %v", h.query)
	}
}

func TestHTTPClient_Error_JSONBody(t *testing.T) {
	h := &testHandler{statusCode: http.StatusBadRequest, responseBody: `{"error": "filter must constrain at least one field"}`}
	c, srv := newTestClient(h, "")
	defer srv.Close()

	_, err := c.Query(context.Background(), model.Filter{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message != "filter must constrain at least one field" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if !IsBadRequest(err) {
		t.Error("IsBadRequest should be true")
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded\n"))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "").Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 500 || apiErr.Message != "upstream exploded" {
		t.Errorf("error = %+v", apiErr)
	}
	if IsBadRequest(err) {
		t.Error("IsBadRequest should be false for a 500")
	}
}

func TestReadSSE(t *testing.T) {
	stream := ":subscribed\n\n" +
		"id:1\nevent:event\ndata:{\"id\":\"a\",\"pubkey\":\"p\",\"kind\":1,\"created_at\":1,\"tags\":[],\"content\":\"\"}\n\n" +
		":keepalive\n\n" +
		"id:2\nevent:event\ndata:{\"id\":\"b\",\"pubkey\":\"p\",\"kind\":1,\"created_at\":2,\"tags\":[],\"content\":\"\"}\n\n"

	var got []string
	if err := readSSE(strings.NewReader(stream), func(ev *model.Event) { got = append(got, ev.ID) }); err != nil {
		t.Fatalf("readSSE: %v", err)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("events = %v", got)
	}

	if err := readSSE(strings.NewReader("data:{oops\n\n"), func(*model.Event) {}); err == nil {
		t.Fatal("expected decode error")
	}
}

// liveServer runs a real relaymux HTTP handler over a memory index.
func liveServer(t *testing.T, token string) (*pubsub.Coordinator, *httptest.Server) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx := index.NewMemory(100)
	coord := pubsub.New(pubsub.Config{Index: idx, Logger: quiet})
	rs := server.New(server.Config{
		Coordinator: coord,
		Index:       idx,
		Watermark:   watermark.Fixed(42),
		Logger:      quiet,
	})
	ts := httptest.NewServer(rs.NewHTTPHandler(token))
	t.Cleanup(ts.Close)
	return coord, ts
}

func TestHTTPClient_EndToEnd(t *testing.T) {
	coord, ts := liveServer(t, "secret")
	c := NewHTTPClient(ts.URL, "secret")
	ctx := context.Background()

	if _, err := c.Publish(ctx, &model.Event{ID: "a", Author: "alice", Kind: 1, CreatedAt: 10}, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	evs, err := c.Query(ctx, model.Filter{Authors: []string{"alice"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(evs) != 1 || evs[0].ID != "a" {
		t.Fatalf("events = %+v", evs)
	}
	if wm, err := c.Watermark(ctx); err != nil || wm != 42 {
		t.Fatalf("Watermark = %d, %v", wm, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(subCtx, model.Filter{Kinds: []int{1}}, false, func(ev *model.Event) {
			mu.Lock()
			got = append(got, ev.ID)
			mu.Unlock()
		})
	}()

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	coord.Ingest(&model.Event{ID: "b", Author: "bob", Kind: 1, CreatedAt: 20, Tags: [][]string{}})
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	subs, err := c.Subscriptions(ctx)
	if err != nil || len(subs.Subscriptions) != 1 {
		t.Fatalf("Subscriptions = %+v, %v", subs, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Subscribe returned %v after cancel", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("streamed = %v, want a,b", got)
	}
}

func TestHTTPClient_SubscribeRejected(t *testing.T) {
	_, ts := liveServer(t, "secret")
	err := NewHTTPClient(ts.URL, "wrong").Subscribe(context.Background(), model.Filter{Kinds: []int{1}}, false, func(*model.Event) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPClient_SubscribeSinceLastOpenedParam(t *testing.T) {
	for _, sinceLastOpened := range []bool{true, false} {
		h := &testHandler{statusCode: http.StatusBadRequest, responseBody: `{"error":"stop"}`}
		c, srv := newTestClient(h, "")
		err := c.Subscribe(context.Background(), model.Filter{Kinds: []int{1}}, sinceLastOpened, func(*model.Event) {})
		srv.Close()
		if err == nil {
			t.Fatal("expected error from rejected subscribe")
		}
		if h.path != "/v1/subscribe" {
			t.Fatalf("path = %q", h.path)
		}
		want := "false"
		if sinceLastOpened {
			want = "true"
		}
		if got := h.query.Get("since_last_opened"); got != want {
			t.Fatalf("since_last_opened = %q, want %q", got, want)
		}
	}
}
