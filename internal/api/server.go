package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"condoscan/internal/config"
	"condoscan/internal/eventbus"
	"condoscan/internal/merge"
	"condoscan/internal/repository"
	"condoscan/internal/scrape"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Operation result codes carried in JSON error bodies, mirroring the
// operator CLI exit codes.
const (
	codeOK           = 0
	codeBadInput     = 2
	codeNotFound     = 3
	codePrecondition = 4
	codeConflict     = 5
)

type Server struct {
	repo         *repository.Repository
	orchestrator *scrape.Orchestrator
	merges       *merge.Controller
	dupes        *merge.DuplicateDetector
	bus          *eventbus.Bus
	env          *config.Env
	httpServer   *http.Server
}

func NewServer(repo *repository.Repository, orch *scrape.Orchestrator, merges *merge.Controller, dupes *merge.DuplicateDetector, bus *eventbus.Bus, env *config.Env, port string) *Server {
	r := mux.NewRouter()

	s := &Server{
		repo:         repo,
		orchestrator: orch,
		merges:       merges,
		dupes:        dupes,
		bus:          bus,
		env:          env,
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	registerBaseRoutes(r, s)
	registerTaskRoutes(r, s)
	registerCatalogRoutes(r, s)
	registerMergeRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	s.watchInvalidations()
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// watchInvalidations drops the recent-updates cache entries whenever a
// writer publishes an invalidation-worthy event.
func (s *Server) watchInvalidations() {
	ch := make(chan eventbus.Event, 64)
	s.bus.Subscribe(eventbus.TypeCacheInvalidate, ch)
	s.bus.Subscribe(eventbus.TypeLifecycleSwept, ch)
	s.bus.Subscribe(eventbus.TypeMergePerformed, ch)
	s.bus.Subscribe(eventbus.TypeMergeReverted, ch)
	go func() {
		for range ch {
			apiCache.invalidatePrefix("/recent-update")
		}
	}()
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, processing, err := s.repo.QueueDepth(r.Context())
	if err != nil {
		pending, processing = 0, 0
	}

	active := s.orchestrator.Registry().ActiveTasks()
	byStatus := map[string]int{}
	for _, h := range active {
		byStatus[h.Status()]++
	}

	writeJSON(w, map[string]interface{}{
		"status":            "ok",
		"commit":            BuildCommit,
		"tasks_in_memory":   len(active),
		"tasks_by_status":   byStatus,
		"queue_pending":     pending,
		"queue_processing":  processing,
		"generated_at":      time.Now().UTC().Format(time.RFC3339),
		"rate_limit_rps":    float64(apiIPLimiter.rps),
		"parallel_limit":    s.env.ParallelLimit,
		"stale_hours":       s.env.StaleListingHours,
		"detail_refetch_hr": s.env.DetailRefetchHours,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode_failed"}`, http.StatusInternalServerError)
	}
}

// writeError emits the shared error body: HTTP status plus the operator
// result code.
func writeError(w http.ResponseWriter, httpStatus, code int, msg string) {
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": msg,
		"code":  code,
	})
}
