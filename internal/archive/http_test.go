package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPStore_Put(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/ledger/2026/03/02/ledger-x.json" {
			t.Fatalf("path = %s, want /ledger/2026/03/02/ledger-x.json", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content type = %s, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	store := NewHTTPStore(ts.URL + "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := store.Put(ctx, "ledger/2026/03/02/ledger-x.json", []byte(`{"count":0}`)); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if gotBody != `{"count":0}` {
		t.Fatalf("body = %s", gotBody)
	}
}

func TestHTTPStore_PutTooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	err := NewHTTPStore(ts.URL).Put(context.Background(), "ledger/a.json", []byte(`{}`))

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", rl.RetryAfter)
	}
}

func TestHTTPStore_PutUnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	if err := NewHTTPStore(ts.URL).Put(context.Background(), "ledger/a.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestHTTPStore_Latest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if p := r.URL.Query().Get("prefix"); p != KeyPrefix {
			t.Fatalf("prefix = %s, want %s", p, KeyPrefix)
		}

		objects := []Object{
			{Key: "ledger/2026/03/01/ledger-a.json", Size: 10},
			{Key: "ledger/2026/03/02/ledger-b.json", Size: 20},
			{Key: "ledger/2026/02/28/ledger-c.json", Size: 30},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(objects); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	latest, err := NewHTTPStore(ts.URL).Latest(context.Background(), KeyPrefix)
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest == nil || latest.Key != "ledger/2026/03/02/ledger-b.json" || latest.Size != 20 {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestHTTPStore_LatestNoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	latest, err := NewHTTPStore(ts.URL).Latest(context.Background(), KeyPrefix)
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil for 204, got %+v", latest)
	}
}

func TestHTTPStore_NotConfigured(t *testing.T) {
	store := NewHTTPStore("")

	if err := store.Put(context.Background(), "ledger/a.json", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
