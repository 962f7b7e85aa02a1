package api

import (
	"time"

	"github.com/gorilla/mux"
)

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws/task", s.handleTaskWebSocket).Methods("GET", "OPTIONS")
}

func registerTaskRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/task/start", s.handleStartTask).Methods("POST", "OPTIONS")
	r.HandleFunc("/task/force-cleanup", s.handleForceCleanup).Methods("POST", "OPTIONS")
	r.HandleFunc("/task/{task_id}/pause", s.handlePauseTask).Methods("POST", "OPTIONS")
	r.HandleFunc("/task/{task_id}/resume", s.handleResumeTask).Methods("POST", "OPTIONS")
	r.HandleFunc("/task/{task_id}/cancel", s.handleCancelTask).Methods("POST", "OPTIONS")
	r.HandleFunc("/task/{task_id}", s.handleGetTask).Methods("GET", "OPTIONS")
	r.HandleFunc("/task/{task_id}", s.handleDeleteTask).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/task", s.handleListTasks).Methods("GET", "OPTIONS")
}

func registerCatalogRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/building/search", s.handleBuildingSearch).Methods("GET", "OPTIONS")
	r.HandleFunc("/building/{id}", s.handleGetBuilding).Methods("GET", "OPTIONS")
	r.HandleFunc("/building/{id}/property", s.handleBuildingProperties).Methods("GET", "OPTIONS")
	r.HandleFunc("/property/{id}", s.handleGetProperty).Methods("GET", "OPTIONS")
	r.HandleFunc("/property/{id}/listing", s.handlePropertyListings).Methods("GET", "OPTIONS")
	r.HandleFunc("/property/{id}/price-history", s.handlePropertyPriceHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/property/{id}/price-change", s.handlePropertyPriceChanges).Methods("GET", "OPTIONS")

	ttl := s.env.RecentUpdatesTTLDuration()
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r.HandleFunc("/recent-update", cachedHandler(ttl, s.handleRecentUpdates)).Methods("GET", "OPTIONS")
	r.HandleFunc("/recent-update/count", cachedHandler(ttl, s.handleRecentUpdateCounts)).Methods("GET", "OPTIONS")
}

func registerMergeRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/merge/building", s.handleMergeBuildings).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/building/revert/{history_id}", s.handleRevertBuildingMerge).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/building/exclusion", s.handleAddBuildingExclusion).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/property", s.handleMergeProperties).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/property/revert/{history_id}", s.handleRevertPropertyMerge).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/property/exclusion", s.handleAddPropertyExclusion).Methods("POST", "OPTIONS")
	r.HandleFunc("/merge/duplicate", s.handleDuplicateCandidates).Methods("GET", "OPTIONS")
	r.HandleFunc("/merge/ambiguous", s.handleAmbiguousMatches).Methods("GET", "OPTIONS")
}
