package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/feedtest"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

func testFetcher(t *testing.T) *Fetcher {
	t.Helper()
	cache, err := NewCache(t.TempDir(), 64, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return NewFetcher(
		WithHTTPClient(http.DefaultClient),
		WithCache(cache),
		WithBaseDelay(time.Millisecond),
	)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"commitTimeStamp":"2023-10-15T12:00:00Z","count":3}`))
	}))
	defer server.Close()

	f := testFetcher(t)
	doc, err := f.GetJSON(context.Background(), server.URL+"/index.json", logging.Nop())
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	// Timestamps stay strings; no automatic date conversion.
	if _, ok := doc["commitTimeStamp"].(string); !ok {
		t.Errorf("timestamp should remain a string, got %T", doc["commitTimeStamp"])
	}
}

func TestGetJSONCachesByURI(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := testFetcher(t)
	for i := 0; i < 3; i++ {
		if _, err := f.GetJSON(context.Background(), server.URL+"/doc.json", logging.Nop()); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, server saw %d", hits.Load())
	}
}

func TestGetJSONNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := testFetcher(t)
	_, err := f.GetJSON(context.Background(), server.URL+"/missing.json", logging.Nop())
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := testFetcher(t)
	doc, err := f.GetJSON(context.Background(), server.URL+"/flaky.json", logging.Nop())
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if doc["ok"] != true {
		t.Errorf("unexpected doc: %v", doc)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGetJSONMalformed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	f := testFetcher(t)
	_, err := f.GetJSON(context.Background(), server.URL+"/bad.json", logging.Nop())
	if !errors.Is(err, core.ErrContentInvalid) {
		t.Errorf("expected ErrContentInvalid, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("malformed content should not be retried, got %d attempts", calls.Load())
	}
}

func TestGetJSONDefaultUserAgent(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f := testFetcher(t)
	if _, err := f.GetJSON(context.Background(), server.URL, logging.Nop()); err != nil {
		t.Fatal(err)
	}
	if ua != DefaultUserAgent {
		t.Errorf("unexpected user agent %q", ua)
	}
}

func TestGetNupkgValidatesArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(feedtest.NupkgBytes("a", "1.0.0"))
	}))
	defer server.Close()

	f := testFetcher(t)
	path, err := f.GetNupkg(context.Background(), server.URL+"/a/1.0.0/a.1.0.0.nupkg", logging.Nop())
	if err != nil {
		t.Fatalf("GetNupkg failed: %v", err)
	}
	if err := validateNupkg(path); err != nil {
		t.Errorf("cached archive invalid: %v", err)
	}
}

func TestGetNupkgRejectsGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a zip"))
	}))
	defer server.Close()

	f := NewFetcher(
		WithCache(mustCache(t)),
		WithBaseDelay(time.Millisecond),
		WithMaxAttempts(2),
	)
	_, err := f.GetNupkg(context.Background(), server.URL+"/bad.nupkg", logging.Nop())
	if !errors.Is(err, core.ErrRetryable) {
		t.Errorf("a corrupt archive should surface as retryable, got %v", err)
	}
}

func mustCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/there" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := testFetcher(t)

	ok, err := f.Exists(context.Background(), server.URL+"/there", logging.Nop())
	if err != nil || !ok {
		t.Errorf("expected (true, nil), got (%v, %v)", ok, err)
	}

	ok, err = f.Exists(context.Background(), server.URL+"/gone", logging.Nop())
	if err != nil || ok {
		t.Errorf("404 should report (false, nil), got (%v, %v)", ok, err)
	}
}

func TestGetJSONCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := testFetcher(t)
	_, err := f.GetJSON(ctx, server.URL, logging.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
