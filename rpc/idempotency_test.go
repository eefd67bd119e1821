package rpc

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func openTestIdempotency(t *testing.T) *IdempotencyStore {
	t.Helper()
	store, err := OpenIdempotencyStore(filepath.Join(t.TempDir(), "idem.db"), time.Hour, nil)
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func postWithKey(t *testing.T, url, key string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(headerIdempotency, key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := openTestIdempotency(t)
	var executed atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if executed.Add(1) == 1 {
			close(entered)
			<-release
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
	})
	ts := httptest.NewServer(store.Middleware(handler))
	defer ts.Close()

	type result struct {
		status int
		body   string
	}
	first := make(chan result, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/deposit", nil)
		req.Header.Set(headerIdempotency, "dup-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- result{}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		first <- result{status: resp.StatusCode, body: string(body)}
	}()
	<-entered

	dup, body := postWithKey(t, ts.URL+"/v1/deposit", "dup-1")
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent duplicate, got %d %s", dup.StatusCode, body)
	}
	close(release)
	res := <-first
	if res.status != http.StatusOK {
		t.Fatalf("first request returned %d", res.status)
	}

	replay, replayBody := postWithKey(t, ts.URL+"/v1/deposit", "dup-1")
	if replay.Header.Get(headerIdempotencyHit) != "hit" || replayBody != res.body {
		t.Fatalf("expected cached replay of the first response, got %q", replayBody)
	}
	if n := executed.Load(); n != 1 {
		t.Fatalf("handler executed %d times", n)
	}
}

func TestIdempotencyReleasesClaimOnServerError(t *testing.T) {
	store := openTestIdempotency(t)
	var executed atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if executed.Add(1) == 1 {
			writeStatusError(w, http.StatusInternalServerError, kindInternal, "boom")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
	})
	ts := httptest.NewServer(store.Middleware(handler))
	defer ts.Close()

	if resp, _ := postWithKey(t, ts.URL, "retry-1"); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if resp, _ := postWithKey(t, ts.URL, "retry-1"); resp.StatusCode != http.StatusOK || resp.Header.Get(headerIdempotencyHit) != "" {
		t.Fatalf("retry after server error must run the handler, got %d", resp.StatusCode)
	}
	if n := executed.Load(); n != 2 {
		t.Fatalf("handler executed %d times", n)
	}
}

func TestIdempotencyStaleClaimIsTakenOver(t *testing.T) {
	store := openTestIdempotency(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	if _, found, err := store.Reserve("k"); err != nil || found {
		t.Fatalf("first reserve: found=%v err=%v", found, err)
	}
	if _, _, err := store.Reserve("k"); !errors.Is(err, errInFlight) {
		t.Fatalf("expected errInFlight, got %v", err)
	}
	if _, found, err := store.Get("k"); err != nil || found {
		t.Fatalf("claim must not look like a cached response: found=%v err=%v", found, err)
	}
	now = now.Add(defaultInFlightTTL + time.Second)
	if _, found, err := store.Reserve("k"); err != nil || found {
		t.Fatalf("stale claim not taken over: found=%v err=%v", found, err)
	}
}
