package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCachedHandlerServesSecondHitFromCache(t *testing.T) {
	t.Parallel()

	calls := 0
	h := cachedHandler(time.Minute, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"n":%d}`, calls)
	})

	req := httptest.NewRequest("GET", "/cache-test/a?hours=24", nil)

	w1 := httptest.NewRecorder()
	h(w1, req)
	w2 := httptest.NewRecorder()
	h(w2, req)

	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
	if w1.Body.String() != w2.Body.String() {
		t.Errorf("cached body differs: %q vs %q", w1.Body.String(), w2.Body.String())
	}
	if w2.Header().Get("X-Cache") != "HIT" {
		t.Error("second response missing X-Cache: HIT")
	}
	if w1.Header().Get("X-Cache") == "HIT" {
		t.Error("first response claimed a cache hit")
	}
}

func TestCachedHandlerKeyIncludesQuery(t *testing.T) {
	t.Parallel()

	calls := 0
	h := cachedHandler(time.Minute, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"q":%q}`, r.URL.RawQuery)
	})

	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/cache-test/b?hours=24", nil))
	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/cache-test/b?hours=48", nil))

	if calls != 2 {
		t.Errorf("handler ran %d times, want 2 for distinct queries", calls)
	}
}

func TestCachedHandlerSkipsErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	h := cachedHandler(time.Minute, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	req := httptest.NewRequest("GET", "/cache-test/c", nil)
	h(httptest.NewRecorder(), req)
	h(httptest.NewRecorder(), req)

	if calls != 2 {
		t.Errorf("handler ran %d times, want 2: error responses must not cache", calls)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	t.Parallel()

	apiCache.set("/cache-test/recent-update?", []byte("a"), time.Minute)
	apiCache.set("/cache-test/recent-update/count?", []byte("b"), time.Minute)
	apiCache.set("/cache-test/other?", []byte("c"), time.Minute)

	apiCache.invalidatePrefix("/cache-test/recent-update")

	if _, ok := apiCache.get("/cache-test/recent-update?"); ok {
		t.Error("prefix entry survived invalidation")
	}
	if _, ok := apiCache.get("/cache-test/recent-update/count?"); ok {
		t.Error("nested prefix entry survived invalidation")
	}
	if _, ok := apiCache.get("/cache-test/other?"); !ok {
		t.Error("unrelated entry was invalidated")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	t.Parallel()

	apiCache.set("/cache-test/expiry?", []byte("x"), -time.Second)
	if _, ok := apiCache.get("/cache-test/expiry?"); ok {
		t.Error("expired entry still served")
	}
}
