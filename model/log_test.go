package model

import "testing"

func TestNextflowProgressEvents(t *testing.T) {
	tests := []struct {
		body      string
		message   string
		submitted int
		completed int
	}{
		{
			body:      `{"event":"process_submitted","trace":{"task_id":1,"name":"A","status":"SUBMITTED"}}`,
			message:   "Task 1: A - SUBMITTED",
			submitted: 1,
		},
		{
			body:      `{"event":"process_submitted","trace":{"task_id":2,"name":"B","status":"SUBMITTED"}}`,
			message:   "Task 2: B - SUBMITTED",
			submitted: 1,
		},
		{
			body:      `{"event":"process_completed","trace":{"task_id":1,"name":"A","status":"COMPLETED"}}`,
			message:   "Task 1: A - COMPLETED",
			completed: 1,
		},
	}

	for _, test := range tests {
		res, err := ProcessLog(EngineNextflow, []byte(test.body))
		if err != nil {
			t.Fatal(err)
		}
		if res.Kind != LogProgress {
			t.Errorf("expected progress kind for %s", test.body)
		}
		if res.Message != test.message {
			t.Errorf("expected message %q, got %q", test.message, res.Message)
		}
		if res.SubmittedDelta != test.submitted || res.CompletedDelta != test.completed {
			t.Errorf("expected deltas (%d, %d), got (%d, %d)",
				test.submitted, test.completed, res.SubmittedDelta, res.CompletedDelta)
		}
	}
}

func TestNextflowErrorReport(t *testing.T) {
	body := `{"event":"completed","metadata":{"workflow":{"errorReport":"process A failed"}}}`
	res, err := ProcessLog(EngineNextflow, []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogError {
		t.Fatalf("expected error kind, got %v", res.Kind)
	}
	if res.Message != "process A failed" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestNextflowUnknownEvent(t *testing.T) {
	res, err := ProcessLog(EngineNextflow, []byte(`{"event":"started"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogNone {
		t.Fatalf("expected no event, got %v", res.Kind)
	}
}

func TestSnakemakeProgress(t *testing.T) {
	res, err := ProcessLog(EngineSnakemake, []byte(`{"level":"progress","done":3,"total":5}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogProgress {
		t.Fatalf("expected progress kind, got %v", res.Kind)
	}
	if res.SubmittedDelta != 3 || res.CompletedDelta != 5 {
		t.Fatalf("expected deltas (3, 5), got (%d, %d)", res.SubmittedDelta, res.CompletedDelta)
	}
}

func TestSnakemakeJobInfo(t *testing.T) {
	res, err := ProcessLog(EngineSnakemake, []byte(`{"level":"job_info","jobid":4,"name":"align","msg":"running"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogMessage {
		t.Fatalf("expected message kind, got %v", res.Kind)
	}
	if res.Message != "Task 4: align - running" {
		t.Fatalf("unexpected message: %q", res.Message)
	}

	res, err = ProcessLog(EngineSnakemake, []byte(`{"level":"job_info","jobid":4,"name":"align"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "Task 4: align" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestSnakemakeInfoAndError(t *testing.T) {
	res, err := ProcessLog(EngineSnakemake, []byte(`{"level":"run_info","msg":"5 jobs"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogMessage || res.Message != "5 jobs" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = ProcessLog(EngineSnakemake, []byte(`{"level":"error","msg":"rule align failed"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != LogError || res.Message != "rule align failed" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestMalformedLogEvent(t *testing.T) {
	if _, err := ProcessLog(EngineNextflow, []byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestQueuedProjectRoundTrip(t *testing.T) {
	queued := QueuedProject{
		ID:         7,
		WorkflowID: 3,
		WorkflowArguments: []Parameter{
			{Name: "in", Type: ParamPath, Value: "data/a.csv", Label: "Input"},
		},
	}
	body, err := MarshalQueuedProject(queued)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalQueuedProject(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.WorkflowID != 3 || len(got.WorkflowArguments) != 1 {
		t.Fatalf("unexpected round trip result: %+v", got)
	}
	if got.WorkflowArguments[0].Value != "data/a.csv" {
		t.Fatalf("unexpected argument value: %v", got.WorkflowArguments[0].Value)
	}
}
