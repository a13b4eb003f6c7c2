package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/floraworks/florapost/internal/blob"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/pipeline"
	"github.com/floraworks/florapost/internal/store"
)

// POST /api/runs
// Accepts a content request, persists the run, and enqueues it. Responds 202
// with the accepted run snapshot.
func handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req flower.ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := orchestrator.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrRunExists) {
			httpError(w, http.StatusConflict, "run already exists")
			return
		}
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, run)
}

// handleRunRoutes dispatches /api/runs/{id} and /api/runs/{id}/cancel.
func handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		handleRunStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		handleRunCancel(w, r, parts[0])
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// runStatusResponse decorates the run snapshot with a download URL for the
// artifact archive once one exists.
type runStatusResponse struct {
	*flower.PipelineRun
	ArchiveURL string `json:"archiveUrl,omitempty"`
}

// GET /api/runs/{id}
func handleRunStatus(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run, err := orchestrator.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			httpError(w, http.StatusNotFound, "run not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "failed to load run", err.Error())
		return
	}

	resp := runStatusResponse{PipelineRun: run}
	if run.ArchiveKey != "" {
		if url, err := mediaStore.PresignGet(r.Context(), run.ArchiveKey, blob.PresignTTL); err == nil {
			resp.ArchiveURL = url
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/runs/{id}/cancel
// Flags the run for cancellation. The response reflects the state at the
// time of the request; the worker applies the flag at its next stage
// boundary.
func handleRunCancel(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run, err := orchestrator.Cancel(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			httpError(w, http.StatusNotFound, "run not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "failed to cancel run", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, run)
}
