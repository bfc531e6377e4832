package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	pools := s.dispatcher.Pools()
	pending := 0
	for _, p := range pools {
		pending += p.Pending
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Now:           s.dispatcher.Now(),
		Pools:         len(pools),
		Pending:       pending,
		EventsDropped: s.events.Dropped(),
	})
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PoolsResponse{
		Now:   s.dispatcher.Now(),
		Pools: s.dispatcher.Pools(),
	})
}

// handleRegisterPool handles POST /pools.
func (s *Server) handleRegisterPool(w http.ResponseWriter, r *http.Request) {
	var cfg pool.Config
	if !s.decodeBody(w, r, &cfg) {
		return
	}
	if err := s.dispatcher.RegisterPool(cfg); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrDuplicatePool):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispatch.ErrInvalidPool):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, cfg.WithDefaults())
}

func (s *Server) handlePoolWorkers(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "pool")
	if !s.dispatcher.HasPool(poolID) {
		s.writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	respondJSON(w, http.StatusOK, WorkersResponse{
		Now:     s.dispatcher.Now(),
		Pool:    poolID,
		Workers: s.dispatcher.GetWorkers(poolID),
	})
}

// handlePoolTasks handles GET /pools/{pool}/tasks?status=pending|active.
func (s *Server) handlePoolTasks(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "pool")
	if !s.dispatcher.HasPool(poolID) {
		s.writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	status := r.URL.Query().Get("status")
	var tasks []queue.Task
	switch status {
	case "", string(queue.StatusPending):
		status = string(queue.StatusPending)
		tasks = s.dispatcher.GetPendingTasks(poolID)
	case "active":
		tasks = s.dispatcher.GetActiveTasks(poolID)
	default:
		s.writeError(w, http.StatusBadRequest, "status must be pending or active")
		return
	}
	respondJSON(w, http.StatusOK, TasksResponse{Pool: poolID, Status: status, Tasks: tasks})
}

// handleSubmitTask handles POST /tasks.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "submission rate exceeded")
		return
	}

	var def queue.Definition
	if !s.decodeBody(w, r, &def) {
		return
	}
	id, err := s.dispatcher.SubmitTask(def)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnknownPool):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, dispatch.ErrInvalidTask):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	status := queue.StatusPending
	if t, ok := s.dispatcher.GetTask(id); ok {
		status = t.Status
	}
	respondJSON(w, http.StatusAccepted, SubmitResponse{TaskID: id, Status: status})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.dispatcher.GetTask(chi.URLParam(r, "taskID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleCancelTask handles DELETE /tasks/{taskID}?reason=. Cancelling a
// finished task is not an error; the response reports cancelled=false.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	before, ok := s.dispatcher.GetTask(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	cancelled := s.dispatcher.CancelTask(id, r.URL.Query().Get("reason"))
	after, ok := s.dispatcher.GetTask(id)
	if !ok {
		after = before
	}
	respondJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled, Task: after})
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	wk, ok := s.dispatcher.GetWorker(chi.URLParam(r, "workerID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	respondJSON(w, http.StatusOK, wk)
}

// handleTaskLog handles GET /log?pool=&limit=.
func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	if s.taskLog == nil {
		s.writeError(w, http.StatusNotFound, "task journal is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.taskLog.Recent(r.Context(), r.URL.Query().Get("pool"), limit)
	if err != nil {
		s.logger.Error("failed to read task log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read task log")
		return
	}
	respondJSON(w, http.StatusOK, LogResponse{Entries: entries})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.routes()))
}

// decodeBody reads a single JSON object into v, rejecting unknown fields.
// It writes the 400 itself and returns false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
