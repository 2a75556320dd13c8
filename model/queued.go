package model

import "encoding/json"

// QueuedProject is the broker message transporting a scheduled run to a
// worker: the project, the workflow and the submitted dynamic arguments.
// It owns no resources, it is pure data.
type QueuedProject struct {
	ID                int64       `json:"id"`
	WorkflowID        int64       `json:"workflow_id"`
	WorkflowArguments []Parameter `json:"workflow_arguments"`
}

// MarshalQueuedProject encodes the message for the broker.
func MarshalQueuedProject(q QueuedProject) ([]byte, error) {
	return json.Marshal(q)
}

// UnmarshalQueuedProject decodes a broker message body.
func UnmarshalQueuedProject(body []byte) (QueuedProject, error) {
	var q QueuedProject
	err := json.Unmarshal(body, &q)
	return q, err
}
