package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
)

type recordedRequest struct {
	method string
	path   string
	engine string
	body   string
}

// recordingBackend captures worker API requests.
type recordingBackend struct {
	mtx      sync.Mutex
	requests []recordedRequest
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mtx.Lock()
	b.requests = append(b.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		engine: r.Header.Get("X-Workflow-Engine"),
		body:   string(body),
	})
	b.mtx.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *recordingBackend) all() []recordedRequest {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]recordedRequest{}, b.requests...)
}

func startProxy(t *testing.T) (*WeblogProxy, *recordingBackend) {
	t.Helper()
	backend := &recordingBackend{}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	client := NewClient(config.Worker{BackendURL: backendSrv.URL})
	proxy, err := NewWeblogProxy(client, logger.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go proxy.Serve(ctx)
	return proxy, backend
}

func TestProxyServiceInfo(t *testing.T) {
	proxy, _ := startProxy(t)

	resp, err := http.Get(proxy.URL() + "/snakemake/api/service-info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"status": "running"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestProxyCreateWorkflowEcho(t *testing.T) {
	proxy, _ := startProxy(t)

	resp, err := http.Get(proxy.URL() + "/snakemake/create_workflow?project_id=7")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"id": 7}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestProxyForwardsNextflowWeblog(t *testing.T) {
	proxy, backend := startProxy(t)

	event := `{"event":"process_submitted","trace":{"task_id":1,"name":"A","status":"SUBMITTED"}}`
	resp, err := http.Post(proxy.URL()+"/nextflow/projects/7", "application/json", strings.NewReader(event))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	requests := backend.all()
	if len(requests) != 1 {
		t.Fatalf("expected 1 forwarded request, got %d", len(requests))
	}
	req := requests[0]
	if req.path != "/api/projects/7/workflow-log" {
		t.Errorf("unexpected path: %s", req.path)
	}
	if req.engine != "nextflow" {
		t.Errorf("unexpected engine header: %s", req.engine)
	}
	if req.body != event {
		t.Errorf("unexpected body: %s", req.body)
	}
}

func TestProxyForwardsSnakemakeStatus(t *testing.T) {
	proxy, backend := startProxy(t)

	msg := `{"level":"progress","done":3,"total":5}`
	form := url.Values{"id": {"7"}, "msg": {msg}}
	resp, err := http.PostForm(proxy.URL()+"/snakemake/update_workflow_status", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	requests := backend.all()
	if len(requests) != 1 {
		t.Fatalf("expected 1 forwarded request, got %d", len(requests))
	}
	req := requests[0]
	if req.path != "/api/projects/7/workflow-log" {
		t.Errorf("unexpected path: %s", req.path)
	}
	if req.engine != "snakemake" {
		t.Errorf("unexpected engine header: %s", req.engine)
	}
	if req.body != msg {
		t.Errorf("unexpected body: %s", req.body)
	}
}

func TestProxyAcceptsWorkflowPut(t *testing.T) {
	proxy, backend := startProxy(t)

	req, err := http.NewRequest(http.MethodPut, proxy.URL()+"/snakemake/api/workflow/7", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(backend.all()) != 0 {
		t.Fatal("expected nothing forwarded for workflow PUT")
	}
}
