package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chhz0/taskd/core"
	"github.com/chhz0/taskd/middleware"
	"github.com/chhz0/taskd/storage"
	"github.com/chhz0/taskd/types"
)

const maxBodyBytes = 1 << 20

type createResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type tickResponse struct {
	Message string `json:"message"`
	core.TickResult
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[core.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	task, err := s.gateway.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err, "Failed to schedule task")
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Message: "Task scheduled successfully",
		TaskID:  task.ID,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status := types.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.gateway.List(r.Context(), status)
	if err != nil {
		s.writeDomainError(w, err, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.gateway.Get(r.Context(), urlParam(r, "task_id"))
	if err != nil {
		s.writeDomainError(w, err, "Failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Delete(r.Context(), urlParam(r, "task_id")); err != nil {
		s.writeDomainError(w, err, "Failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	res, err := s.executor.Tick(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual tick failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{
		Message:    fmt.Sprintf("Processed %d tasks", res.Processed),
		TickResult: res,
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   types.FormatTime(time.Now()),
	})
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	var snap []middleware.ActionStats
	if s.stats != nil {
		snap = s.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatch": snap})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, storage.ErrTaskExists):
		writeError(w, http.StatusConflict, "Task already exists")
	default:
		s.log.Error().Err(err).Msg(fallbackMsg)
		writeError(w, http.StatusInternalServerError, fallbackMsg)
	}
}
