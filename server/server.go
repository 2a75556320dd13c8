// Package server contains the backend HTTP API: project and workflow
// resources, the scheduler endpoint, the log-ingestion endpoint and the
// websocket event stream.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/events"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/model"
)

// Database is the project and workflow store the handlers run against.
type Database interface {
	CreateProject(name string) (*model.Project, error)
	GetProject(id int64) (*model.Project, error)
	ScheduleProject(id, workflowID int64) (*model.Project, error)
	UnscheduleProject(id int64) error
	AddProgress(id int64, submitted, completed int) (*model.Project, error)
	FinishProject(id int64) error
	SetProjectIgnore(id int64, ignore bool) error
	CreateWorkflow(*model.Workflow) error
	GetWorkflow(id int64) (*model.Workflow, error)
}

// Publisher sends a queued project message to the broker.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Server is the backend API server.
type Server struct {
	Conf      config.Server
	DB        Database
	Publisher Publisher
	Events    events.Writer
	Hub       *events.Hub
	Log       logger.Logger
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/projects", s.createProject)
	mux.HandleFunc("GET /api/projects/{id}", s.getProject)
	mux.HandleFunc("GET /api/projects/{id}/events", s.subscribeEvents)
	mux.HandleFunc("POST /api/projects/{id}/schedule/{workflowID}", s.scheduleProject)
	mux.HandleFunc("POST /api/projects/{id}/ignore", s.ignoreProject)
	mux.HandleFunc("GET /api/projects/{id}/is-ignored", s.workerAuth(s.isIgnored))
	mux.HandleFunc("POST /api/projects/{id}/finished", s.workerAuth(s.finishProject))
	mux.HandleFunc("POST /api/projects/{id}/workflow-log", s.workerAuth(s.ingestWorkflowLog))
	mux.HandleFunc("POST /api/workflows", s.createWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.workerAuth(s.getWorkflow))

	return mux
}

// Serve starts the HTTP server and blocks until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Conf.HostName + ":" + s.Conf.HTTPPort,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.Log.Info("Server listening", "httpAddress", "http://"+srv.Addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// workerAuth guards worker-only endpoints with HTTP basic auth.
func (s *Server) workerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.Conf.WorkerUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Conf.WorkerPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="macworp"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders a general error as {"errors": {"general": message}}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]map[string]string{
		"errors": {"general": msg},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs model.ValidationErrors) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]model.ValidationErrors{
		"errors": errs,
	})
}
