package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/macworp/macworp/events"
	"github.com/macworp/macworp/model"
	"github.com/macworp/macworp/server/boltdb"
)

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	project, err := s.DB.CreateProject(body.Name)
	if err != nil {
		s.Log.Error("Creating project failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	project, err := s.DB.GetProject(id)
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// scheduleProject validates the submitted workflow arguments, flips the
// scheduled flag and publishes the queued project. A failed publish rolls
// the flag back so the project can be rescheduled.
func (s *Server) scheduleProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	workflowID, err := pathID(r, "workflowID")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid workflow ID")
		return
	}

	// The body is a bare list of submitted parameter values.
	var args []model.Parameter
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	if _, err := s.DB.GetProject(id); err != nil {
		if errors.Is(err, boltdb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	workflow, err := s.DB.GetWorkflow(workflowID)
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}

	if errs := workflow.Definition.ValidateArguments(args); errs.Any() {
		writeValidationErrors(w, errs)
		return
	}

	project, err := s.DB.ScheduleProject(id, workflowID)
	switch {
	case errors.Is(err, boltdb.ErrIgnored):
		writeError(w, http.StatusConflict, "project is ignored and cannot be scheduled")
		return
	case errors.Is(err, boltdb.ErrAlreadyScheduled):
		writeError(w, http.StatusUnprocessableEntity, "project is already scheduled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to schedule project")
		return
	}

	s.cacheScheduledArguments(project, workflowID, args)

	msg, err := model.MarshalQueuedProject(model.QueuedProject{
		ID:                id,
		WorkflowID:        workflowID,
		WorkflowArguments: args,
	})
	if err == nil {
		err = s.Publisher.Publish(r.Context(), msg)
	}
	if err != nil {
		s.Log.Error("Publishing queued project failed", "error", err, "project", id)
		if rbErr := s.DB.UnscheduleProject(id); rbErr != nil {
			s.Log.Error("Rolling back schedule failed", "error", rbErr, "project", id)
		}
		writeError(w, http.StatusInternalServerError, "failed to queue project")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"is_scheduled": true})
}

// cacheScheduledArguments remembers the submitted parameters and the
// workflow ID so the frontend can prefill the next run. Failures only log,
// scheduling does not depend on the cache.
func (s *Server) cacheScheduledArguments(project *model.Project, workflowID int64, args []model.Parameter) {
	if s.Conf.ProjectsRoot == "" {
		return
	}
	paramsFile, err := project.WorkflowParamsCacheFile(s.Conf.ProjectsRoot, workflowID)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(args); err == nil {
			err = os.WriteFile(paramsFile, data, 0644)
		}
	}
	if err == nil {
		var lastFile string
		if lastFile, err = project.LastExecutedWorkflowCacheFile(s.Conf.ProjectsRoot); err == nil {
			err = os.WriteFile(lastFile, []byte(strconv.FormatInt(workflowID, 10)), 0644)
		}
	}
	if err != nil {
		s.Log.Warn("Caching workflow arguments failed", "project", project.ID, "error", err)
	}
}

func (s *Server) ignoreProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	var body struct {
		Ignore bool `json:"ignore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	err = s.DB.SetProjectIgnore(id, body.Ignore)
	if err == nil && body.Ignore {
		// An ignored project is also taken out of the running state so a
		// later unignore starts from a clean slate.
		err = s.DB.FinishProject(id)
	}
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ignore": body.Ignore})
}

// isIgnored tells workers whether to drop a queued project. 200 means
// ignored, 204 means run it, 404 means the project no longer exists.
func (s *Server) isIgnored(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	project, err := s.DB.GetProject(id)
	if errors.Is(err, boltdb.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	if project.Ignore {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// finishProject resets the project's run state. It is idempotent, workers
// may repeat it after a retried delivery.
func (s *Server) finishProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	err = s.DB.FinishProject(id)
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to finish project")
		return
	}
	s.writeEvent(events.NewFinished(id))
	w.WriteHeader(http.StatusOK)
}

// ingestWorkflowLog normalizes one engine log event, applies counter deltas
// and pushes the resulting event to the project's subscribers.
func (s *Server) ingestWorkflowLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	engine, err := model.ParseEngine(r.Header.Get("X-Workflow-Engine"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	project, err := s.DB.GetProject(id)
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	if project.WorkflowID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "project has no workflow")
		return
	}
	workflow, err := s.DB.GetWorkflow(project.WorkflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	if !workflow.Definition.SupportsEngine(engine) {
		writeError(w, http.StatusUnprocessableEntity,
			"workflow does not support engine "+string(engine))
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "empty log event")
		return
	}
	// A bare "{}" carries no log at all and is rejected like a missing body.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		writeError(w, http.StatusUnprocessableEntity, "empty log event")
		return
	}

	result, err := model.ProcessLog(engine, raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	switch result.Kind {
	case model.LogProgress:
		project, err = s.DB.AddProgress(id, result.SubmittedDelta, result.CompletedDelta)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update progress")
			return
		}
		s.writeEvent(events.NewProgress(id,
			project.SubmittedProcesses, project.CompletedProcesses, result.Message))
	case model.LogMessage:
		s.writeEvent(events.NewProgress(id,
			project.SubmittedProcesses, project.CompletedProcesses, result.Message))
	case model.LogError:
		s.writeEvent(events.NewError(id, result.Message))
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow := &model.Workflow{}
	if err := json.NewDecoder(r.Body).Decode(workflow); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := s.DB.CreateWorkflow(workflow); err != nil {
		s.Log.Error("Creating workflow failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid workflow ID")
		return
	}
	workflow, err := s.DB.GetWorkflow(id)
	if errors.Is(err, boltdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is read-only and carries no credentials beyond the
	// session, cross-origin subscriptions are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeEvents upgrades the connection and joins the project's room.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project ID")
		return
	}
	if _, err := s.DB.GetProject(id); err != nil {
		if errors.Is(err, boltdb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("Websocket upgrade failed", "error", err, "project", id)
		return
	}
	s.Hub.Subscribe(id, conn)
}

func (s *Server) writeEvent(ev *events.Event) {
	if err := s.Events.Write(ev); err != nil {
		s.Log.Error("Writing event failed", "error", err, "project", ev.ProjectID)
	}
}
