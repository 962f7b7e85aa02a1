package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"condoscan/internal/models"
	"condoscan/internal/repository"
	"condoscan/internal/scrape"
)

type startTaskRequest struct {
	Scrapers         []string `json:"scrapers"`
	AreaCodes        []string `json:"area_codes"`
	MaxProperties    int      `json:"max_properties"`
	ForceDetailFetch bool     `json:"force_detail_fetch"`
	Mode             string   `json:"mode"` // "serial" (default) or "parallel"
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadInput, "invalid JSON body")
		return
	}
	if req.Mode != "" && req.Mode != "serial" && req.Mode != "parallel" {
		writeError(w, http.StatusBadRequest, codeBadInput, "mode must be serial or parallel")
		return
	}

	scrapers := make([]models.SourceSite, 0, len(req.Scrapers))
	for _, name := range req.Scrapers {
		scrapers = append(scrapers, models.SourceSite(strings.ToLower(strings.TrimSpace(name))))
	}

	task, err := s.orchestrator.StartTask(r.Context(), scrape.StartRequest{
		Scrapers:         scrapers,
		AreaCodes:        req.AreaCodes,
		MaxProperties:    req.MaxProperties,
		ForceDetailFetch: req.ForceDetailFetch,
		Parallel:         req.Mode == "parallel",
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{
		"code": codeOK,
		"task": task,
	})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	if err := s.orchestrator.PauseTask(r.Context(), taskID); err != nil {
		s.writeTaskControlError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "task_id": taskID, "status": models.TaskStatusPaused})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	if err := s.orchestrator.ResumeTask(r.Context(), taskID); err != nil {
		s.writeTaskControlError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "task_id": taskID, "status": models.TaskStatusRunning})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	if err := s.orchestrator.CancelTask(r.Context(), taskID); err != nil {
		s.writeTaskControlError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"code": codeOK, "task_id": taskID, "status": models.TaskStatusCancelled})
}

// writeTaskControlError maps control failures onto the result codes: a
// missing task is not-found, a wrong-state task is precondition-failed.
func (s *Server) writeTaskControlError(w http.ResponseWriter, err error) {
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, codeNotFound, "task not found")
		return
	}
	writeError(w, http.StatusConflict, codePrecondition, err.Error())
}

// handleGetTask returns the full task row plus its per-pair progress map
// and the latest log slices.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	task, err := s.orchestrator.TaskSnapshot(r.Context(), taskID)
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, codeNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	progress, err := s.repo.ListTaskProgress(r.Context(), taskID)
	if err != nil {
		log.Printf("[api] list task progress %s: %v", taskID, err)
		progress = nil
	}
	progressMap := make(map[string]*models.ScrapeTaskProgress, len(progress))
	for _, p := range progress {
		progressMap[models.ProgressKey(p.Scraper, p.AreaCode)] = p
	}

	writeJSON(w, map[string]interface{}{
		"code":            codeOK,
		"task":            task,
		"progress_detail": progressMap,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "1" || r.URL.Query().Get("active_only") == "true"

	tasks, err := s.repo.ListTasks(r.Context(), 30)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	// Live tasks in this process are fresher than their persisted rows.
	out := make([]*models.ScrapeTask, 0, len(tasks))
	for _, t := range tasks {
		if h, ok := s.orchestrator.Registry().Task(t.TaskID); ok {
			snap := h.Snapshot()
			t = &snap
		}
		if activeOnly && models.IsTerminalTaskStatus(t.Status) {
			continue
		}
		out = append(out, t)
	}

	writeJSON(w, map[string]interface{}{
		"code":  codeOK,
		"tasks": out,
	})
}

// handleDeleteTask removes a task row. Only completed, cancelled, and error
// tasks may be deleted.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	task, err := s.orchestrator.TaskSnapshot(r.Context(), taskID)
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, codeNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	switch task.Status {
	case models.TaskStatusCompleted, models.TaskStatusCancelled, models.TaskStatusError:
	default:
		writeError(w, http.StatusConflict, codePrecondition, "only completed, cancelled, or error tasks can be deleted")
		return
	}

	if err := s.repo.DeleteTask(r.Context(), taskID); err != nil {
		if err == repository.ErrNotFound {
			writeError(w, http.StatusNotFound, codeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}
	s.orchestrator.Registry().Remove(taskID)

	writeJSON(w, map[string]interface{}{"code": codeOK, "task_id": taskID})
}

// handleForceCleanup flips every non-terminal task to cancelled, both in
// memory and in the store.
func (s *Server) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	reg := s.orchestrator.Registry()
	for _, h := range reg.ActiveTasks() {
		if models.IsTerminalTaskStatus(h.Status()) {
			continue
		}
		if flags, ok := reg.Flags(h.TaskID()); ok {
			flags.Cancel.Set()
			flags.Pause.Clear()
		}
		h.SetStatus(models.TaskStatusCancelled)
		reg.DropInstances(h.TaskID())
	}

	ids, err := s.repo.ForceCleanupTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeConflict, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"code":      codeOK,
		"cancelled": ids,
	})
}
