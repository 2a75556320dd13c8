// Package events contains the project event model and the fan-out of
// progress, error and completion events to project subscribers.
package events

// Event names pushed to subscribers.
const (
	TypeNewProgress     = "new-progress"
	TypeError           = "error"
	TypeFinishedProject = "finished-project"
)

// Event is one notification for the subscribers of a single project.
type Event struct {
	// ProjectID is the topic: every event belongs to exactly one project.
	ProjectID int64 `json:"-"`
	// Type is one of the Type* constants.
	Type string `json:"event"`
	// Data is the event payload, marshaled to JSON for transport.
	Data interface{} `json:"data"`
}

// Progress is the payload of a new-progress event.
type Progress struct {
	SubmittedProcesses int    `json:"submitted_processes"`
	CompletedProcesses int    `json:"completed_processes"`
	Details            string `json:"details"`
}

// Error is the payload of an error event.
type Error struct {
	ErrorReport string `json:"error_report"`
}

// NewProgress returns a new-progress event for the given project.
func NewProgress(projectID int64, submitted, completed int, details string) *Event {
	return &Event{
		ProjectID: projectID,
		Type:      TypeNewProgress,
		Data: Progress{
			SubmittedProcesses: submitted,
			CompletedProcesses: completed,
			Details:            details,
		},
	}
}

// NewError returns an error event for the given project.
func NewError(projectID int64, report string) *Event {
	return &Event{
		ProjectID: projectID,
		Type:      TypeError,
		Data:      Error{ErrorReport: report},
	}
}

// NewFinished returns a finished-project event for the given project.
func NewFinished(projectID int64) *Event {
	return &Event{
		ProjectID: projectID,
		Type:      TypeFinishedProject,
		Data:      struct{}{},
	}
}
