package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"condoscan/internal/normalizer"
	"condoscan/internal/repository"
)

const searchResultLimit = 50

// handleBuildingSearch expands the query into its normalized variants and
// matches them against building names and recorded aliases.
func (s *Server) handleBuildingSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, codeBadInput, "missing query parameter q")
		return
	}

	patterns := normalizer.ExpandSearchPatterns(query)
	buildings, err := s.repo.SearchBuildings(r.Context(), patterns, searchResultLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"code":      codeOK,
		"query":     query,
		"buildings": buildings,
	})
}

func (s *Server) handleGetBuilding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := s.repo.GetBuilding(r.Context(), id)
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, codeNotFound, "building not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	aliases, err := s.repo.ListBuildingListingNames(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"code":     codeOK,
		"building": b,
		"aliases":  aliases,
	})
}

func (s *Server) handleBuildingProperties(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	props, err := s.repo.ListPropertiesByBuilding(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"code":       codeOK,
		"properties": props,
	})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.repo.GetProperty(r.Context(), id)
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, codeNotFound, "property not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"code":     codeOK,
		"property": p,
	})
}

func (s *Server) handlePropertyListings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	listings, err := s.repo.ListListingsByProperty(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"code":     codeOK,
		"listings": listings,
	})
}

func (s *Server) handlePropertyPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	points, err := s.repo.PropertyPriceHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"code":   codeOK,
		"points": points,
	})
}

func (s *Server) handlePropertyPriceChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	changes, err := s.repo.ListPropertyPriceChanges(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"code":    codeOK,
		"changes": changes,
	})
}

// handleRecentUpdates serves the ward-bucketed projection. The route is
// wrapped by the response cache; invalidation comes off the event bus.
func (s *Server) handleRecentUpdates(w http.ResponseWriter, r *http.Request) {
	hours := queryHours(r)
	updates, err := s.repo.BuildRecentUpdates(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, updates)
}

func (s *Server) handleRecentUpdateCounts(w http.ResponseWriter, r *http.Request) {
	hours := queryHours(r)
	counts, err := s.repo.BuildRecentUpdateCounts(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, counts)
}

func queryHours(r *http.Request) int {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*30 {
			hours = n
		}
	}
	return hours
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeBadInput, "invalid id")
		return 0, false
	}
	return id, true
}
