package model

import (
	"encoding/json"
	"fmt"
)

// LogKind classifies a normalized engine log event.
type LogKind int

// Log event kinds.
const (
	LogNone LogKind = iota
	LogProgress
	LogMessage
	LogError
)

// LogResult is the normalized form of one engine log event: a kind, a
// human-readable message and the counter deltas to apply to the project.
type LogResult struct {
	Kind           LogKind
	Message        string
	SubmittedDelta int
	CompletedDelta int
}

// ProcessLog normalizes a raw engine log event.
func ProcessLog(engine Engine, raw []byte) (LogResult, error) {
	var event map[string]json.RawMessage
	if err := json.Unmarshal(raw, &event); err != nil {
		return LogResult{}, fmt.Errorf("decoding %s log event: %w", engine, err)
	}
	switch engine {
	case EngineNextflow:
		return processNextflowLog(event), nil
	case EngineSnakemake:
		return processSnakemakeLog(event), nil
	}
	return LogResult{}, nil
}

// nextflowTrace is the per-process trace record of a Nextflow weblog event.
type nextflowTrace struct {
	TaskID json.Number `json:"task_id"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

func processNextflowLog(event map[string]json.RawMessage) LogResult {
	rawTrace, hasTrace := event["trace"]
	rawEvent, hasEvent := event["event"]
	if hasTrace && hasEvent {
		var name string
		if err := json.Unmarshal(rawEvent, &name); err != nil {
			return LogResult{}
		}
		var trace nextflowTrace
		if err := json.Unmarshal(rawTrace, &trace); err != nil {
			return LogResult{}
		}
		res := LogResult{
			Kind:    LogProgress,
			Message: fmt.Sprintf("Task %s: %s - %s", trace.TaskID, trace.Name, trace.Status),
		}
		switch name {
		case "process_submitted":
			res.SubmittedDelta = 1
		case "process_completed":
			res.CompletedDelta = 1
		}
		return res
	}

	if rawMeta, ok := event["metadata"]; ok && hasEvent {
		var meta struct {
			Workflow struct {
				ErrorReport string `json:"errorReport"`
			} `json:"workflow"`
		}
		if err := json.Unmarshal(rawMeta, &meta); err == nil && meta.Workflow.ErrorReport != "" {
			return LogResult{Kind: LogError, Message: meta.Workflow.ErrorReport}
		}
	}
	return LogResult{}
}

// snakemakeEvent covers the wms-monitor event fields this pipeline consumes.
type snakemakeEvent struct {
	Level string      `json:"level"`
	Done  int         `json:"done"`
	Total int         `json:"total"`
	JobID json.Number `json:"jobid"`
	Name  string      `json:"name"`
	Msg   string      `json:"msg"`
}

func processSnakemakeLog(event map[string]json.RawMessage) LogResult {
	if _, ok := event["level"]; !ok {
		return LogResult{}
	}
	full, err := json.Marshal(event)
	if err != nil {
		return LogResult{}
	}
	var ev snakemakeEvent
	if err := json.Unmarshal(full, &ev); err != nil {
		return LogResult{}
	}

	switch ev.Level {
	case "progress":
		return LogResult{
			Kind:           LogProgress,
			SubmittedDelta: ev.Done,
			CompletedDelta: ev.Total,
		}
	case "job_info":
		msg := fmt.Sprintf("Task %s: %s", ev.JobID, ev.Name)
		if ev.Msg != "" {
			msg += " - " + ev.Msg
		}
		return LogResult{Kind: LogMessage, Message: msg}
	case "run_info", "info":
		return LogResult{Kind: LogMessage, Message: ev.Msg}
	case "error":
		return LogResult{Kind: LogError, Message: ev.Msg}
	}
	return LogResult{}
}
