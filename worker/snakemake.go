package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/macworp/macworp/model"
)

// SnakemakeGenerator builds Snakemake invocations. Progress events reach
// the weblog proxy through Snakemake's Panoptes wms-monitor protocol.
type SnakemakeGenerator struct {
	// Bin is the Snakemake executable.
	Bin string
	// GitBin is used to check out remote workflow repositories.
	GitBin string
	// WeblogURL is the proxy's base URL.
	WeblogURL string
}

// GenerateCommand implements CommandGenerator. For remote sources the
// workflow repository is checked out below the work directory first.
func (g *SnakemakeGenerator) GenerateCommand(projectDir, workDir string, queued model.QueuedProject, def model.WorkflowDefinition) ([]string, error) {
	argv := []string{
		g.Bin,
		"--directory", projectDir,
		"--default-resources", fmt.Sprintf("tmpdir='%s'", workDir),
		"--wms-monitor", g.WeblogURL + "/snakemake",
		"--wms-monitor-arg", fmt.Sprintf("project_id=%d", queued.ID),
	}
	argv = append(argv, engineParams("--", def.EngineParameters)...)

	snakefile, err := g.snakefile(workDir, def.Src)
	if err != nil {
		return nil, err
	}
	argv = append(argv, "--snakefile", snakefile)

	params, err := renderParams(projectDir, def.Parameters.Static, queued.WorkflowArguments)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		argv = append(argv, "--config")
		for _, p := range params {
			argv = append(argv, fmt.Sprintf("%s='%s'", p.name, p.value))
		}
	}
	return argv, nil
}

func (g *SnakemakeGenerator) snakefile(workDir string, src model.Source) (string, error) {
	switch src.Type {
	case "local":
		return filepath.Join(src.Directory, src.Script), nil
	case "remote":
		repoDir := filepath.Join(workDir, "workflow_repo")
		if err := g.checkoutRepo(repoDir, src); err != nil {
			return "", err
		}
		return filepath.Join(repoDir, "Snakefile"), nil
	}
	return "", fmt.Errorf("unsupported snakemake source type: %q", src.Type)
}

// checkoutRepo shallow-clones the workflow repository on first use and
// updates the existing checkout on later runs.
func (g *SnakemakeGenerator) checkoutRepo(repoDir string, src model.Source) error {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err == nil {
		if out, err := g.git("-C", repoDir, "fetch", "--depth", "1", "origin", src.Version); err != nil {
			return fmt.Errorf("fetching workflow repo: %v: %s", err, out)
		}
		if out, err := g.git("-C", repoDir, "checkout", src.Version); err != nil {
			return fmt.Errorf("checking out %q: %v: %s", src.Version, err, out)
		}
		return nil
	}

	args := []string{"clone", "--depth", "1"}
	if src.Version != "" {
		args = append(args, "--branch", src.Version)
	}
	args = append(args, src.URL, repoDir)
	if out, err := g.git(args...); err != nil {
		return fmt.Errorf("cloning workflow repo: %v: %s", err, out)
	}
	return nil
}

func (g *SnakemakeGenerator) git(args ...string) ([]byte, error) {
	return exec.Command(g.GitBin, args...).CombinedOutput()
}

// Cleanup implements CommandGenerator. A successful run drops the
// .snakemake cache and the work dir, a failed run keeps the engine logs.
func (g *SnakemakeGenerator) Cleanup(projectDir, workDir string, success, keepIntermediate bool) error {
	cacheDir := filepath.Join(projectDir, ".snakemake")

	if !success {
		return removeExcept(cacheDir, "log")
	}

	var result *multierror.Error
	if !keepIntermediate {
		if err := os.RemoveAll(workDir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := os.RemoveAll(cacheDir); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// removeExcept removes every entry of dir except the named one.
func removeExcept(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, entry := range entries {
		if entry.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
