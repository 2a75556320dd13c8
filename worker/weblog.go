package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/model"
)

// WeblogProxy is the in-worker HTTP sidecar the engines log to. Nextflow
// posts weblog JSON, Snakemake speaks the Panoptes wms-monitor protocol.
// Events are forwarded to the backend's log-ingestion endpoint; forwarding
// errors are logged and swallowed so a backend hiccup never crashes an
// engine callback.
type WeblogProxy struct {
	client   *Client
	log      logger.Logger
	listener net.Listener
	srv      *http.Server
}

// NewWeblogProxy binds the proxy to a loopback port assigned by the OS.
func NewWeblogProxy(client *Client, log logger.Logger) (*WeblogProxy, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding weblog proxy: %w", err)
	}
	p := &WeblogProxy{client: client, log: log, listener: listener}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /nextflow/projects/{id}", p.nextflowWeblog)
	mux.HandleFunc("GET /snakemake/api/service-info", p.serviceInfo)
	mux.HandleFunc("GET /snakemake/create_workflow", p.createWorkflow)
	mux.HandleFunc("POST /snakemake/update_workflow_status", p.updateWorkflowStatus)
	mux.HandleFunc("PUT /snakemake/api/workflow/{id}", p.acceptWorkflow)
	p.srv = &http.Server{Handler: mux}

	return p, nil
}

// URL returns the proxy's base URL, e.g. "http://127.0.0.1:49152".
func (p *WeblogProxy) URL() string {
	return "http://" + p.listener.Addr().String()
}

// Serve runs the proxy until the context is canceled.
func (p *WeblogProxy) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.srv.Close()
	}()
	err := p.srv.Serve(p.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// nextflowWeblog forwards a raw Nextflow weblog body.
func (p *WeblogProxy) nextflowWeblog(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	p.forward(r.Context(), projectID, model.EngineNextflow, body)
	w.WriteHeader(http.StatusOK)
}

// serviceInfo answers the Panoptes liveness probe Snakemake sends before
// starting a run.
func (p *WeblogProxy) serviceInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status": "running"}`)
}

// createWorkflow echoes the project ID back as the Panoptes run ID, so
// later status updates carry it in their "id" field.
func (p *WeblogProxy) createWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id": %s}`, projectID)
}

// updateWorkflowStatus forwards one Snakemake wms-monitor event.
func (p *WeblogProxy) updateWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	projectID, err := strconv.ParseInt(r.PostFormValue("id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	msg := r.PostFormValue("msg")
	if msg == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	p.forward(r.Context(), projectID, model.EngineSnakemake, []byte(msg))
	w.WriteHeader(http.StatusOK)
}

// acceptWorkflow discards the final workflow state Snakemake PUTs at the
// end of a run. The route only exists to satisfy the protocol.
func (p *WeblogProxy) acceptWorkflow(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	w.WriteHeader(http.StatusOK)
}

func (p *WeblogProxy) forward(ctx context.Context, projectID int64, engine model.Engine, raw []byte) {
	if err := p.client.PostWorkflowLog(ctx, projectID, engine, raw); err != nil {
		p.log.Error("Forwarding workflow log failed", "error", err, "project", projectID, "engine", engine)
	}
}
