// Package model holds the MAcWorP domain types: projects, workflows,
// queued runs and the normalization of engine log events.
package model

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/macworp/macworp/util/fsutil"
)

// Project is a user-owned run container. Its files live in a directory
// below the configured projects root, named after the project ID.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// WorkflowID links the workflow of the current or most recent run.
	WorkflowID         int64 `json:"workflow_id,omitempty"`
	IsScheduled        bool  `json:"is_scheduled"`
	SubmittedProcesses int   `json:"submitted_processes"`
	CompletedProcesses int   `json:"completed_processes"`
	Ignore             bool  `json:"ignore"`
}

// Dir returns the project's file directory below the given root.
func (p *Project) Dir(root string) string {
	return filepath.Join(root, strconv.FormatInt(p.ID, 10))
}

// Path securely joins the given untrusted path to the project directory.
// An error is returned when the joined path would escape the directory.
func (p *Project) Path(root, untrusted string) (string, error) {
	dir := p.Dir(root)
	joined := fsutil.SecureJoin(dir, untrusted)
	if err := fsutil.CheckWithin(dir, joined); err != nil {
		return "", err
	}
	return joined, nil
}

// CacheDir returns the project's cache directory for MAcWorP-internal
// files, creating it if necessary.
func (p *Project) CacheDir(root string) (string, error) {
	dir := filepath.Join(p.Dir(root), ".cache")
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("creating project cache dir: %w", err)
	}
	return dir, nil
}

// WorkflowParamsCacheFile returns the path of the cache file holding the
// parameters last submitted for the given workflow.
func (p *Project) WorkflowParamsCacheFile(root string, workflowID int64) (string, error) {
	dir, err := p.CacheDir(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("workflow_%d_parameters.json", workflowID)), nil
}

// LastExecutedWorkflowCacheFile returns the path of the cache file holding
// the ID of the last scheduled workflow.
func (p *Project) LastExecutedWorkflowCacheFile(root string) (string, error) {
	dir, err := p.CacheDir(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "last_executed_workflow.json"), nil
}
