package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/kballard/go-shellquote"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/model"
	"github.com/macworp/macworp/util/fsutil"
)

// delivery is one broker message relayed to an executor: the body, the
// delivery tag needed for the acknowledgement and the generation of the
// broker connection the tag belongs to.
type delivery struct {
	tag  uint64
	gen  uint64
	body []byte
}

// ackRequest is an executor's verdict on a delivery. Requeue only matters
// for negative acknowledgements. The generation must match the current
// broker connection, tags are only valid on the connection that issued
// them.
type ackRequest struct {
	tag     uint64
	gen     uint64
	ack     bool
	requeue bool
}

// Executor runs queued projects one at a time: resolve the workflow, build
// the engine command, run it in the project directory and report back.
type Executor struct {
	conf      config.Worker
	client    *Client
	weblogURL string
	log       logger.Logger
}

// NewExecutor returns an executor posting engine logs via the given proxy URL.
func NewExecutor(conf config.Worker, client *Client, weblogURL string, log logger.Logger) *Executor {
	return &Executor{conf: conf, client: client, weblogURL: weblogURL, log: log}
}

// Run processes deliveries until the channel closes or the context is
// canceled. Every delivery ends with exactly one ack request.
func (e *Executor) Run(ctx context.Context, deliveries <-chan delivery, acks chan<- ackRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			verdict := e.process(ctx, d)
			select {
			case acks <- verdict:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Executor) process(ctx context.Context, d delivery) ackRequest {
	queued, err := model.UnmarshalQueuedProject(d.body)
	if err != nil {
		e.log.Error("Dropping malformed queue message", "error", err)
		return ackRequest{tag: d.tag, gen: d.gen, requeue: false}
	}
	log := e.log.WithFields("project", queued.ID, "workflow", queued.WorkflowID)

	ignored, err := e.client.IsProjectIgnored(ctx, queued.ID)
	if err != nil {
		log.Error("Checking ignore state failed, requeueing", "error", err)
		return ackRequest{tag: d.tag, gen: d.gen, requeue: true}
	}
	if ignored {
		log.Info("Project is ignored, dropping delivery")
		return ackRequest{tag: d.tag, gen: d.gen, ack: true}
	}

	workflow, err := e.client.GetWorkflow(ctx, queued.WorkflowID)
	if err != nil {
		log.Error("Fetching workflow failed, requeueing", "error", err)
		return ackRequest{tag: d.tag, gen: d.gen, requeue: true}
	}

	if err := e.execute(ctx, log, queued, workflow); err != nil {
		log.Error("Workflow run failed", "error", err)
		return ackRequest{tag: d.tag, gen: d.gen, requeue: false}
	}

	// The delivery is settled before the completion report: a failed
	// report leaves the project stuck-scheduled for an operator, it must
	// not rerun the whole workflow.
	verdict := ackRequest{tag: d.tag, gen: d.gen, ack: true}
	if err := e.client.MarkProjectFinished(ctx, queued.ID); err != nil {
		log.Error("Reporting project finished failed", "error", err)
	}
	return verdict
}

func (e *Executor) execute(ctx context.Context, log logger.Logger, queued model.QueuedProject, workflow *model.Workflow) error {
	projectDir := filepath.Join(e.conf.ProjectsRoot, strconv.FormatInt(queued.ID, 10))
	if err := fsutil.EnsureDir(projectDir); err != nil {
		return fmt.Errorf("creating project dir: %w", err)
	}
	workDir := filepath.Join(projectDir, WorkDirName(workflow.Name))
	if err := fsutil.EnsureDir(workDir); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}

	generator, err := e.generator(workflow.Definition.Engine)
	if err != nil {
		return err
	}

	argv, err := generator.GenerateCommand(projectDir, workDir, queued, workflow.Definition)
	if err != nil {
		return fmt.Errorf("generating command: %w", err)
	}
	log.Info("Running workflow", "cmd", shellquote.Join(argv...))

	// Deliberately not bound to the context: an in-flight engine run is
	// allowed to finish during shutdown instead of being killed.
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = projectDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	success := runErr == nil

	if cleanupErr := generator.Cleanup(projectDir, workDir, success, e.conf.KeepIntermediateFiles); cleanupErr != nil {
		log.Warn("Cleanup after workflow run failed", "error", cleanupErr)
	}

	if runErr != nil {
		log.Error("Workflow engine exited with error",
			"error", runErr,
			"stdout", stdout.String(),
			"stderr", stderr.String())
		return fmt.Errorf("running workflow engine: %w", runErr)
	}
	log.Info("Workflow run succeeded")
	return nil
}

func (e *Executor) generator(engine model.Engine) (CommandGenerator, error) {
	switch engine {
	case model.EngineNextflow:
		return &NextflowGenerator{Bin: e.conf.NextflowBin, WeblogURL: e.weblogURL}, nil
	case model.EngineSnakemake:
		return &SnakemakeGenerator{Bin: e.conf.SnakemakeBin, GitBin: e.conf.GitBin, WeblogURL: e.weblogURL}, nil
	}
	return nil, fmt.Errorf("unsupported workflow engine: %q", engine)
}
