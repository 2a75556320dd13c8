package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/model"
)

// fakeBackend serves the worker-facing API surface for executor tests.
type fakeBackend struct {
	ignored  bool
	workflow *model.Workflow

	mtx      sync.Mutex
	finished []string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/is-ignored"):
		if b.ignored {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNoContent)
		}
	case strings.HasPrefix(r.URL.Path, "/api/workflows/"):
		if b.workflow == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(b.workflow)
	case strings.HasSuffix(r.URL.Path, "/finished"):
		b.mtx.Lock()
		b.finished = append(b.finished, r.URL.Path)
		b.mtx.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *fakeBackend) finishedCalls() []string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]string{}, b.finished...)
}

func newTestExecutor(t *testing.T, backend *fakeBackend) (*Executor, string) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	conf := config.Worker{
		BackendURL:   srv.URL,
		ProjectsRoot: root,
		Executors:    1,
		// Stand-in engine binary, the run itself is not under test.
		NextflowBin:  "true",
		SnakemakeBin: "true",
		GitBin:       "git",
	}
	return NewExecutor(conf, NewClient(conf), "http://127.0.0.1:9999", logger.NewDiscard()), root
}

func queuedBody(t *testing.T, queued model.QueuedProject) []byte {
	t.Helper()
	body, err := model.MarshalQueuedProject(queued)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestExecutorMalformedMessage(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeBackend{})

	verdict := e.process(context.Background(), delivery{tag: 1, body: []byte("not json")})
	if verdict.ack {
		t.Fatal("expected nack for malformed message")
	}
	if verdict.requeue {
		t.Fatal("malformed messages must not be requeued")
	}
}

func TestExecutorIgnoredProjectDropped(t *testing.T) {
	backend := &fakeBackend{ignored: true}
	e, root := newTestExecutor(t, backend)

	verdict := e.process(context.Background(), delivery{tag: 1, body: queuedBody(t, model.QueuedProject{ID: 7, WorkflowID: 3})})
	if !verdict.ack {
		t.Fatal("expected positive ack for ignored project")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no filesystem writes, found %d entries", len(entries))
	}
	if len(backend.finishedCalls()) != 0 {
		t.Fatal("expected no finished report for a dropped delivery")
	}
}

func TestExecutorUnknownWorkflowRequeued(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeBackend{})

	verdict := e.process(context.Background(), delivery{tag: 1, body: queuedBody(t, model.QueuedProject{ID: 7, WorkflowID: 3})})
	if verdict.ack {
		t.Fatal("expected nack when the workflow cannot be fetched")
	}
	if !verdict.requeue {
		t.Fatal("expected requeue for a backend failure")
	}
}

func TestExecutorUnsupportedEngine(t *testing.T) {
	backend := &fakeBackend{workflow: &model.Workflow{
		ID:         3,
		Name:       "main",
		Definition: model.WorkflowDefinition{Engine: "cwl"},
	}}
	e, _ := newTestExecutor(t, backend)

	verdict := e.process(context.Background(), delivery{tag: 1, body: queuedBody(t, model.QueuedProject{ID: 7, WorkflowID: 3})})
	if verdict.ack || verdict.requeue {
		t.Fatalf("expected nack without requeue, got %+v", verdict)
	}
}

func TestExecutorPathEscapeNacked(t *testing.T) {
	backend := &fakeBackend{workflow: &model.Workflow{
		ID:         3,
		Name:       "main",
		Definition: nextflowDefinition(),
	}}
	e, _ := newTestExecutor(t, backend)

	queued := model.QueuedProject{
		ID:         7,
		WorkflowID: 3,
		WorkflowArguments: []model.Parameter{
			{Name: "in", Type: model.ParamPath, Value: "../../etc/passwd", Label: "Input"},
		},
	}
	verdict := e.process(context.Background(), delivery{tag: 1, body: queuedBody(t, queued)})
	if verdict.ack || verdict.requeue {
		t.Fatalf("expected nack without requeue, got %+v", verdict)
	}
	if len(backend.finishedCalls()) != 0 {
		t.Fatal("expected no finished report for a refused command")
	}
}

func TestExecutorHappyPath(t *testing.T) {
	backend := &fakeBackend{workflow: &model.Workflow{
		ID:         3,
		Name:       "main",
		Definition: nextflowDefinition(),
	}}
	e, root := newTestExecutor(t, backend)

	queued := model.QueuedProject{
		ID:         7,
		WorkflowID: 3,
		WorkflowArguments: []model.Parameter{
			{Name: "in", Type: model.ParamPath, Value: "data/a.csv", Label: "Input"},
		},
	}
	verdict := e.process(context.Background(), delivery{tag: 1, body: queuedBody(t, queued)})
	if !verdict.ack {
		t.Fatal("expected positive ack for successful run")
	}

	if _, err := os.Stat(root + "/7"); err != nil {
		t.Fatalf("expected project dir to exist: %v", err)
	}
	// The engine work dir is removed after a successful run.
	if _, err := os.Stat(root + "/7/.main_work"); !os.IsNotExist(err) {
		t.Fatalf("expected work dir to be cleaned up, got %v", err)
	}

	finished := backend.finishedCalls()
	if len(finished) != 1 || finished[0] != "/api/projects/7/finished" {
		t.Fatalf("expected one finished report, got %v", finished)
	}
}
