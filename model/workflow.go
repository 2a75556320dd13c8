package model

import "fmt"

// Engine identifies a supported workflow engine.
type Engine string

// Supported workflow engines.
const (
	EngineNextflow  Engine = "nextflow"
	EngineSnakemake Engine = "snakemake"
)

// ParseEngine parses an engine name, e.g. from the X-Workflow-Engine header.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EngineNextflow:
		return EngineNextflow, nil
	case EngineSnakemake:
		return EngineSnakemake, nil
	}
	return "", fmt.Errorf("unsupported workflow engine: %q", s)
}

// Workflow is a reusable run template. The definition is authored outside
// the execution pipeline and read-only to it.
type Workflow struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Definition  WorkflowDefinition `json:"definition"`
	IsValidated bool               `json:"is_validated"`
	IsPublished bool               `json:"is_published"`
}

// WorkflowDefinition is the semantic tree describing how to run a workflow.
type WorkflowDefinition struct {
	Engine           Engine            `json:"engine"`
	EngineParameters []EngineParameter `json:"engine_parameters"`
	Src              Source            `json:"src"`
	Parameters       ParameterSets     `json:"parameters"`
	SupportedEngines []Engine          `json:"supported_engines"`
}

// SupportsEngine reports whether log events from the given engine are
// acceptable for this workflow. A definition without an explicit list
// accepts only its own engine.
func (d WorkflowDefinition) SupportsEngine(engine Engine) bool {
	if len(d.SupportedEngines) == 0 {
		return engine == d.Engine
	}
	for _, e := range d.SupportedEngines {
		if e == engine {
			return true
		}
	}
	return false
}

// EngineParameter is an engine invocation flag fixed by the workflow
// developer, e.g. Nextflow's "-profile docker".
type EngineParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Source describes where the workflow code comes from.
type Source struct {
	// Type is "local", "remote" or (Nextflow only) "nf-core".
	Type string `json:"type"`
	// Directory and Script locate a local workflow.
	Directory string `json:"directory,omitempty"`
	Script    string `json:"script,omitempty"`
	// URL and Version locate a remote workflow repository.
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	// Pipeline names an nf-core pipeline.
	Pipeline string `json:"pipeline,omitempty"`
}

// ParameterSets groups the workflow's static and dynamic parameters.
type ParameterSets struct {
	Static  []Parameter `json:"static"`
	Dynamic []Parameter `json:"dynamic"`
}

// Parameter types.
const (
	ParamText        = "text"
	ParamNumber      = "number"
	ParamValueSelect = "value-select"
	ParamPath        = "path"
	ParamPaths       = "paths"
	ParamFileGlob    = "file-glob"
	ParamSeparator   = "separator"
)

// Parameter is one field of a workflow's parameter schema, and also one
// submitted value: dynamic arguments travel with name, label, type and
// value through the scheduler and the broker.
type Parameter struct {
	Name  string      `json:"name"`
	Label string      `json:"label"`
	Type  string      `json:"type"`
	Value interface{} `json:"value,omitempty"`
	// IsRelative rewrites a static path parameter to be relative to the
	// project directory.
	IsRelative bool `json:"is_relative,omitempty"`
}

// IsSeparator reports whether the parameter is a visual separator which
// carries no value.
func (p Parameter) IsSeparator() bool {
	return p.Type == ParamSeparator
}

// ValidationErrors collects field-keyed validation messages, rendered to
// clients as {"errors": {label: [messages]}}.
type ValidationErrors map[string][]string

// Add appends a message for the given field.
func (v ValidationErrors) Add(field, msg string) {
	v[field] = append(v[field], msg)
}

// Any reports whether any error was collected.
func (v ValidationErrors) Any() bool {
	return len(v) > 0
}

// ValidateArguments checks submitted parameter values against the
// workflow's dynamic parameter schema. Missing parameters are reported
// first; value checks only run on a schema-complete submission.
func (d WorkflowDefinition) ValidateArguments(submitted []Parameter) ValidationErrors {
	errs := ValidationErrors{}

	present := make(map[string]bool, len(submitted))
	for _, p := range submitted {
		if p.IsSeparator() {
			continue
		}
		present[p.Name] = true
	}

	for _, expected := range d.Parameters.Dynamic {
		if expected.IsSeparator() {
			continue
		}
		if !present[expected.Name] {
			errs.Add(expected.Label, "is missing")
		}
	}
	if errs.Any() {
		return errs
	}

	for _, p := range submitted {
		if p.IsSeparator() {
			continue
		}
		if p.Value == nil {
			errs.Add(p.Label, "cannot be empty")
		}
	}
	return errs
}
