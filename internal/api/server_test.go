package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestCommonMiddleware(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	h := commonMiddleware(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}
}

func TestCommonMiddlewareShortCircuitsOptions(t *testing.T) {
	t.Parallel()

	reached := false
	h := commonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/x", nil))
	if reached {
		t.Error("OPTIONS preflight reached the inner handler")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, codePrecondition, "task is not paused")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	var body struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != codePrecondition || body.Error != "task is not paused" {
		t.Errorf("body = %+v", body)
	}
}

func TestQueryHours(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query string
		want  int
	}{
		{"", 24},
		{"hours=48", 48},
		{"hours=0", 24},
		{"hours=-5", 24},
		{"hours=100000", 24}, // above the 30-day cap
		{"hours=junk", 24},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/recent-update?"+tc.query, nil)
		if got := queryHours(r); got != tc.want {
			t.Errorf("queryHours(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestPathID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		r := mux.SetURLVars(httptest.NewRequest("GET", "/property/x", nil), map[string]string{"id": tc.raw})
		w := httptest.NewRecorder()
		id, ok := pathID(w, r, "id")
		if id != tc.want || ok != tc.ok {
			t.Errorf("pathID(%q) = (%d, %v), want (%d, %v)", tc.raw, id, ok, tc.want, tc.ok)
		}
		if !tc.ok && w.Code != http.StatusBadRequest {
			t.Errorf("pathID(%q) wrote status %d, want 400", tc.raw, w.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		remote string
		xff    string
		xreal  string
		want   string
	}{
		{"remote addr", "10.0.0.1:1234", "", "", "10.0.0.1"},
		{"x-forwarded-for wins", "10.0.0.1:1234", "203.0.113.5, 10.0.0.2", "", "203.0.113.5"},
		{"x-real-ip fallback", "10.0.0.1:1234", "", "203.0.113.9", "203.0.113.9"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/x", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xreal != "" {
				r.Header.Set("X-Real-IP", tc.xreal)
			}
			if got := clientIP(r); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
