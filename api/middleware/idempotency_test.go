package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestMatchRule(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		pattern  string
		want     time.Duration
		required bool
		ok       bool
	}{
		{"submit", http.MethodPost, "/api/v1/submit", criticalIdempotencyTTL, true, true},
		{"draft save", http.MethodPost, "/api/v1/draft", defaultIdempotencyTTL, false, true},
		{"draft fetch", http.MethodGet, "/api/v1/draft", 0, false, false},
		{"upload", http.MethodPost, "/api/v1/upload", 0, false, false},
	}

	for _, tt := range tests {
		rule, ok := matchRule(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && (rule.ttl != tt.want || rule.required != tt.required) {
			t.Fatalf("%s: unexpected rule %+v", tt.name, rule)
		}
	}
}

func TestIdempotencyRequiresHeaderOnSubmit(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyOptionalOnDraft(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/draft", "/api/v1/draft", strings.NewReader(`{"action":"create"}`))
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("requests without a key bypass the store, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"itemId":"item-1"}`))
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Fatalf("expected content-type header preserved")
		}
		if strings.TrimSpace(rec.Body.String()) != `{"success":true,"itemId":"item-1"}` {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
		if replayed := rec.Header().Get(replayedHeader) == "true"; replayed != (i == 1) {
			t.Fatalf("attempt %d: unexpected replay header %q", i, rec.Header().Get(replayedHeader))
		}
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyDoesNotStoreServerFailures(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	status := http.StatusBadGateway
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	})

	send := func() int {
		req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
		req.Header.Set("Idempotency-Key", "retry-me")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", code)
	}
	status = http.StatusOK
	if code := send(); code != http.StatusOK {
		t.Fatalf("retry should reach the handler, got %d", code)
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestIdempotencyReleasesRetryableRejections(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	lockHeld := true
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if lockHeld {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(types.ErrorEnvelope{Error: "submission already running", ErrorCode: string(pkgerrors.CodeInFlight)})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"itemId":"item-1"}`))
	})

	send := func() *httptest.ResponseRecorder {
		req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
		req.Header.Set("Idempotency-Key", "submit-ABC1234-00")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if len(store.data) != 0 {
		t.Fatalf("retryable rejection should free the key, stored=%v", store.data)
	}
	lockHeld = false
	rec := send()
	if rec.Code != http.StatusOK || rec.Header().Get(replayedHeader) != "" {
		t.Fatalf("retry should reach the handler, got %d replayed=%q", rec.Code, rec.Header().Get(replayedHeader))
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestIdempotencyStorable(t *testing.T) {
	envelope := func(code pkgerrors.Code) []byte {
		raw, _ := json.Marshal(types.ErrorEnvelope{Error: "x", ErrorCode: string(code)})
		return raw
	}
	tests := []struct {
		name   string
		status int
		body   []byte
		want   bool
	}{
		{name: "success", status: http.StatusOK, body: []byte(`{"success":true}`), want: true},
		{name: "validation", status: http.StatusBadRequest, body: envelope(pkgerrors.CodeValidation), want: true},
		{name: "state conflict", status: http.StatusUnprocessableEntity, body: envelope(pkgerrors.CodeStateConflict), want: true},
		{name: "in flight", status: http.StatusConflict, body: envelope(pkgerrors.CodeInFlight), want: false},
		{name: "not found", status: http.StatusNotFound, body: envelope(pkgerrors.CodeNotFound), want: false},
		{name: "rate limited", status: http.StatusTooManyRequests, body: nil, want: false},
		{name: "server failure", status: http.StatusBadGateway, body: envelope(pkgerrors.CodeFinalization), want: false},
		{name: "plain 4xx body", status: http.StatusBadRequest, body: []byte("bad"), want: true},
	}
	for _, tt := range tests {
		if got := storable(tt.status, tt.body); got != tt.want {
			t.Fatalf("%s: storable(%d) = %v, want %v", tt.name, tt.status, got, tt.want)
		}
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{"a":1}}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{"a":2}}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload types.ErrorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.ErrorCode != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.ErrorCode)
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	var inner *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner != nil {
			return
		}
		// a duplicate arrives while the first request is still running
		inner = httptest.NewRecorder()
		dup := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
		dup.Header.Set("Idempotency-Key", "busy")
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("duplicate must not reach the handler")
		})).ServeHTTP(inner, dup)
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
	req.Header.Set("Idempotency-Key", "busy")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected duplicate to get 409, got %+v", inner)
	}
	var payload types.ErrorEnvelope
	if err := json.Unmarshal(inner.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.ErrorCode != string(pkgerrors.CodeInFlight) {
		t.Fatalf("expected %s got %s", pkgerrors.CodeInFlight, payload.ErrorCode)
	}
}

func TestIdempotencyReleasesClaimOnPanic(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{"payload":{}}`))
	req.Header.Set("Idempotency-Key", "crash")
	func() {
		defer func() { _ = recover() }()
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}()

	if len(store.data) != 0 {
		t.Fatalf("expected claim to be released, store=%v", store.data)
	}
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	req := requestWithPattern(http.MethodPost, "/api/v1/submit", "/api/v1/submit", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", strings.Repeat("k", maxIdempotencyKeyBytes+1))
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
