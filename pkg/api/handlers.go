package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcmartin/upgraderunner/pkg/storage"
)

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleLogin verifies credentials and issues a bearer token
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleGetWorkflow returns the current engine snapshot
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflows.Snapshot())
}

// handleStart starts a run from the default plan, a custom YAML plan or a
// chosen step of the default plan
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan     string `json:"plan,omitempty"`
		FromStep string `json:"from_step,omitempty"`
	}

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if req.Plan != "" && req.FromStep != "" {
		writeError(w, http.StatusBadRequest, "plan and from_step cannot be combined")
		return
	}

	var err error
	switch {
	case req.Plan != "":
		err = s.workflows.StartPlan(req.Plan)
	case req.FromStep != "":
		err = s.workflows.StartFromStep(req.FromStep)
	default:
		err = s.workflows.StartDefault()
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, s.workflows.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, s.workflows.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, s.workflows.Resume)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, s.workflows.Retry)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, s.workflows.SkipCurrent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, s.workflows.Cancel)
}

// controlAction runs an engine control operation and returns the resulting
// snapshot. Precondition failures map to 409.
func (s *Server) controlAction(w http.ResponseWriter, action func() error) {
	if err := action(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.workflows.Snapshot())
}

// handleSubmitAction resolves a pending user action
func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["id"]

	if err := s.workflows.SubmitUserAction(actionID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.workflows.Snapshot())
}

// handleWorkflowHistory returns the current run's execution history
func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflows.History())
}

// handleListRuns lists persisted runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Workflow.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.workflows.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one persisted run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	run, err := s.workflows.GetRun(runID)
	if err == storage.ErrRunNotFound {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRunLogs returns the persisted logs of a run
func (s *Server) handleGetRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	logs, err := s.workflows.GetRunLogs(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
