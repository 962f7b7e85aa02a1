package api

import (
	"encoding/json"
	"net/http"
)

type mergeBuildingsRequest struct {
	PrimaryID    int64   `json:"primary_id"`
	SecondaryIDs []int64 `json:"secondary_ids"`
}

func (s *Server) handleMergeBuildings(w http.ResponseWriter, r *http.Request) {
	var req mergeBuildingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadInput, "invalid JSON body")
		return
	}
	if req.PrimaryID <= 0 || len(req.SecondaryIDs) == 0 {
		writeError(w, http.StatusBadRequest, codeBadInput, "primary_id and secondary_ids are required")
		return
	}

	if err := s.merges.MergeBuildings(r.Context(), req.PrimaryID, req.SecondaryIDs); err != nil {
		writeError(w, http.StatusConflict, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "primary_id": req.PrimaryID})
}

type mergePropertiesRequest struct {
	PrimaryID   int64 `json:"primary_id"`
	SecondaryID int64 `json:"secondary_id"`
}

func (s *Server) handleMergeProperties(w http.ResponseWriter, r *http.Request) {
	var req mergePropertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadInput, "invalid JSON body")
		return
	}
	if req.PrimaryID <= 0 || req.SecondaryID <= 0 {
		writeError(w, http.StatusBadRequest, codeBadInput, "primary_id and secondary_id are required")
		return
	}

	if err := s.merges.MergeProperties(r.Context(), req.PrimaryID, req.SecondaryID); err != nil {
		writeError(w, http.StatusConflict, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "primary_id": req.PrimaryID})
}

func (s *Server) handleRevertBuildingMerge(w http.ResponseWriter, r *http.Request) {
	historyID, ok := pathID(w, r, "history_id")
	if !ok {
		return
	}
	warnings, err := s.merges.RevertBuildingMerge(r.Context(), historyID)
	if err != nil {
		writeError(w, http.StatusConflict, codePrecondition, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "warnings": warnings})
}

func (s *Server) handleRevertPropertyMerge(w http.ResponseWriter, r *http.Request) {
	historyID, ok := pathID(w, r, "history_id")
	if !ok {
		return
	}
	warnings, err := s.merges.RevertPropertyMerge(r.Context(), historyID)
	if err != nil {
		writeError(w, http.StatusConflict, codePrecondition, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "warnings": warnings})
}

// handleDuplicateCandidates serves the detector's cached candidate pairs.
func (s *Server) handleDuplicateCandidates(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.dupes.Detect(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "candidates": pairs})
}

type exclusionRequest struct {
	ID1 int64 `json:"id_1"`
	ID2 int64 `json:"id_2"`
}

func (s *Server) handleAddBuildingExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID1 <= 0 || req.ID2 <= 0 || req.ID1 == req.ID2 {
		writeError(w, http.StatusBadRequest, codeBadInput, "two distinct building ids are required")
		return
	}
	if err := s.repo.AddBuildingMergeExclusion(r.Context(), req.ID1, req.ID2); err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	s.dupes.Invalidate()
	writeJSON(w, map[string]interface{}{"code": codeOK})
}

func (s *Server) handleAddPropertyExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID1 <= 0 || req.ID2 <= 0 || req.ID1 == req.ID2 {
		writeError(w, http.StatusBadRequest, codeBadInput, "two distinct property ids are required")
		return
	}
	if err := s.repo.AddPropertyMergeExclusion(r.Context(), req.ID1, req.ID2); err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK})
}

func (s *Server) handleAmbiguousMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.repo.ListAmbiguousMatches(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "matches": matches})
}
