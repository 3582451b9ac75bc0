package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

type fakeIdempotencyStore struct {
	data map[string]string
	err  error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{data: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("test:%s:%s", scope, id)
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func okHandler(called *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called++
		w.WriteHeader(http.StatusCreated)
	})
}

func TestIdempotencyPassThroughWithoutHeader(t *testing.T) {
	store := newFakeIdempotencyStore()
	called := 0

	req := httptest.NewRequest(http.MethodPost, "/payments", nil)
	resp := httptest.NewRecorder()
	Idempotency(store, "payments", nil)(okHandler(&called)).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if called != 1 {
		t.Fatalf("handler should run without a key")
	}
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	store := newFakeIdempotencyStore()
	called := 0
	mw := Idempotency(store, "payments", nil)(okHandler(&called))

	first := httptest.NewRequest(http.MethodPost, "/payments", nil)
	first.Header.Set("Idempotency-Key", "abc-123")
	resp := httptest.NewRecorder()
	mw.ServeHTTP(resp, first)
	if resp.Code != http.StatusCreated {
		t.Fatalf("first use should pass, got %d", resp.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/payments", nil)
	second.Header.Set("Idempotency-Key", "abc-123")
	resp = httptest.NewRecorder()
	mw.ServeHTTP(resp, second)

	if resp.Code != http.StatusConflict {
		t.Fatalf("reuse should conflict, got %d", resp.Code)
	}
	if called != 1 {
		t.Fatalf("handler ran %d times, want 1", called)
	}

	var body types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestIdempotencyScopesAreIndependent(t *testing.T) {
	store := newFakeIdempotencyStore()
	called := 0

	payReq := httptest.NewRequest(http.MethodPost, "/payments", nil)
	payReq.Header.Set("Idempotency-Key", "shared-key")
	resp := httptest.NewRecorder()
	Idempotency(store, "payments", nil)(okHandler(&called)).ServeHTTP(resp, payReq)
	if resp.Code != http.StatusCreated {
		t.Fatalf("payments scope should accept the key, got %d", resp.Code)
	}

	refundReq := httptest.NewRequest(http.MethodPost, "/refunds", nil)
	refundReq.Header.Set("Idempotency-Key", "shared-key")
	resp = httptest.NewRecorder()
	Idempotency(store, "refunds", nil)(okHandler(&called)).ServeHTTP(resp, refundReq)
	if resp.Code != http.StatusCreated {
		t.Fatalf("refunds scope should accept the same key, got %d", resp.Code)
	}
}

func TestIdempotencyStoreFailure(t *testing.T) {
	store := newFakeIdempotencyStore()
	store.err = fmt.Errorf("redis down")
	called := 0

	req := httptest.NewRequest(http.MethodPost, "/payments", nil)
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	Idempotency(store, "payments", nil)(okHandler(&called)).ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if called != 0 {
		t.Fatalf("handler must not run when the store is down")
	}
}
