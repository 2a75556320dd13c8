package worker

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/macworp/macworp/model"
	"github.com/macworp/macworp/util/fsutil"
)

// CommandGenerator turns a queued project and its workflow definition into
// an engine invocation, and cleans up after the run.
type CommandGenerator interface {
	// GenerateCommand returns the argv to run with CWD = projectDir.
	GenerateCommand(projectDir, workDir string, queued model.QueuedProject, def model.WorkflowDefinition) ([]string, error)
	// Cleanup removes engine byproducts after a run, honouring the
	// keep-intermediate-files setting.
	Cleanup(projectDir, workDir string, success, keepIntermediate bool) error
}

// WorkDirName derives the engine work directory name from the workflow
// name, e.g. "RNA-Seq (v2)" becomes ".RNASeq_v2_work".
func WorkDirName(workflowName string) string {
	return "." + fsutil.SanitizeName(workflowName) + "_work"
}

// renderedParam is one name/value pair ready for argv assembly.
type renderedParam struct {
	name  string
	value string
}

// renderParams renders the workflow's static parameters and the submitted
// dynamic arguments. Separators are skipped; only static path parameters
// honour is_relative.
func renderParams(projectDir string, static, dynamic []model.Parameter) ([]renderedParam, error) {
	var out []renderedParam
	for _, p := range static {
		rendered, skip, err := renderParam(projectDir, p, p.IsRelative)
		if err != nil {
			return nil, err
		}
		if !skip {
			out = append(out, rendered)
		}
	}
	for _, p := range dynamic {
		rendered, skip, err := renderParam(projectDir, p, false)
		if err != nil {
			return nil, err
		}
		if !skip {
			out = append(out, rendered)
		}
	}
	return out, nil
}

func renderParam(projectDir string, p model.Parameter, relative bool) (renderedParam, bool, error) {
	if p.IsSeparator() {
		return renderedParam{}, true, nil
	}

	switch p.Type {
	case model.ParamPath, model.ParamFileGlob:
		raw, err := valueString(p.Value)
		if err != nil {
			return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		joined, err := secureProjectPath(projectDir, raw)
		if err != nil {
			return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		if relative && p.Type == model.ParamPath {
			rel, err := filepath.Rel(projectDir, joined)
			if err != nil {
				return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			return renderedParam{name: p.Name, value: rel}, false, nil
		}
		return renderedParam{name: p.Name, value: joined}, false, nil

	case model.ParamPaths:
		items, ok := p.Value.([]interface{})
		if !ok {
			return renderedParam{}, false, fmt.Errorf("parameter %q: expected a list of paths", p.Name)
		}
		joined := ""
		for i, item := range items {
			raw, err := valueString(item)
			if err != nil {
				return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			path, err := secureProjectPath(projectDir, raw)
			if err != nil {
				return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			if i > 0 {
				joined += ","
			}
			joined += path
		}
		return renderedParam{name: p.Name, value: joined}, false, nil

	default:
		raw, err := valueString(p.Value)
		if err != nil {
			return renderedParam{}, false, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		return renderedParam{name: p.Name, value: raw}, false, nil
	}
}

// secureProjectPath joins an untrusted path to the project directory. A
// value that would resolve outside the project directory is refused, the
// run must not touch foreign files. Wildcard characters pass through, the
// engine resolves globs.
func secureProjectPath(projectDir, raw string) (string, error) {
	joined := filepath.Join(projectDir, strings.TrimLeft(raw, "/"))
	if err := fsutil.CheckWithin(projectDir, joined); err != nil {
		return "", err
	}
	return joined, nil
}

// valueString renders a JSON-decoded parameter value as an argv token.
func valueString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", fmt.Errorf("value is missing")
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// engineParams renders the fixed engine flags with the engine's prefix.
func engineParams(prefix string, params []model.EngineParameter) []string {
	var argv []string
	for _, p := range params {
		argv = append(argv, prefix+p.Name)
		if p.Value != "" {
			argv = append(argv, p.Value)
		}
	}
	return argv
}
