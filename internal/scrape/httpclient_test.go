package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchDocument404NoRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, 3, 100)
	_, err := c.FetchDocument(context.Background(), srv.URL)
	if err != ErrNotFoundPage {
		t.Fatalf("err = %v, want ErrNotFoundPage", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("404 was retried: %d requests", n)
	}
}

func TestFetchDocumentRetriesTransient(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("<html><body><p id='ok'>ok</p></body></html>"))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, 3, 100)
	doc, err := c.FetchDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if doc.Find("#ok").Length() != 1 {
		t.Error("parsed document missing expected node")
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("request count = %d, want 2", n)
	}
}

func TestFetchDocumentExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, 2, 100)
	if _, err := c.FetchDocument(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("request count = %d, want 2", n)
	}
}

func TestFetchDocumentContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(5*time.Second, 5, 100)
	if _, err := c.FetchDocument(ctx, srv.URL); err == nil {
		t.Fatal("expected a context error")
	}
}
