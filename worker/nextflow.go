package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/macworp/macworp/model"
)

// NextflowGenerator builds Nextflow invocations. Progress events reach the
// weblog proxy through Nextflow's -with-weblog option.
type NextflowGenerator struct {
	// Bin is the Nextflow executable.
	Bin string
	// WeblogURL is the proxy's base URL.
	WeblogURL string
}

// GenerateCommand implements CommandGenerator.
func (g *NextflowGenerator) GenerateCommand(projectDir, workDir string, queued model.QueuedProject, def model.WorkflowDefinition) ([]string, error) {
	argv := []string{
		g.Bin, "run",
		"-work-dir", workDir,
		"-with-weblog", fmt.Sprintf("%s/nextflow/projects/%d", g.WeblogURL, queued.ID),
	}
	argv = append(argv, engineParams("-", def.EngineParameters)...)

	source, err := nextflowSource(def.Src)
	if err != nil {
		return nil, err
	}
	argv = append(argv, source...)

	params, err := renderParams(projectDir, def.Parameters.Static, queued.WorkflowArguments)
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		argv = append(argv, "--"+p.name, p.value)
	}
	return argv, nil
}

func nextflowSource(src model.Source) ([]string, error) {
	switch src.Type {
	case "local":
		return []string{filepath.Join(src.Directory, src.Script)}, nil
	case "remote":
		argv := []string{src.URL}
		if src.Version != "" {
			argv = append(argv, "-r", src.Version)
		}
		return argv, nil
	case "nf-core":
		return []string{"nf-core/" + src.Pipeline}, nil
	}
	return nil, fmt.Errorf("unsupported nextflow source type: %q", src.Type)
}

// Cleanup implements CommandGenerator. After a successful run the Nextflow
// log, work dir and cache are removed; a failed run keeps everything but
// never fails the executor.
func (g *NextflowGenerator) Cleanup(projectDir, workDir string, success, keepIntermediate bool) error {
	if !success {
		return nil
	}
	var result *multierror.Error
	if err := os.Remove(filepath.Join(projectDir, ".nextflow.log")); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	if !keepIntermediate {
		if err := os.RemoveAll(workDir); err != nil {
			result = multierror.Append(result, err)
		}
		if err := os.RemoveAll(filepath.Join(projectDir, ".nextflow")); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
