package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/model"
	"github.com/macworp/macworp/util"
)

const (
	clientTimeout  = 60 * time.Second
	clientTries    = 3
	clientInterval = 3 * time.Second
)

// Client talks to the backend API on behalf of a worker. Every request is
// retried a few times with a fixed pause, so short backend restarts don't
// fail a running workflow.
type Client struct {
	conf config.Worker
	http *http.Client
}

// NewClient returns a backend API client for the configured backend.
func NewClient(conf config.Worker) *Client {
	return &Client{
		conf: conf,
		http: &http.Client{Timeout: clientTimeout},
	}
}

// statusError is returned for non-2xx responses. 4xx responses are not
// retried, the backend gave a definite answer.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.status, e.body)
}

func (c *Client) retrier() *util.Retrier {
	r := util.NewFixedRetrier(clientTries, clientInterval)
	r.ShouldRetry = func(err error) bool {
		if serr, ok := err.(*statusError); ok {
			return serr.status >= 500
		}
		return true
	}
	return r
}

// do sends one request with retries and returns the final status and body.
// Statuses listed in accept are returned without error.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, accept ...int) (int, []byte, error) {
	var status int
	var respBody []byte

	err := c.retrier().Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.conf.BackendURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for key, vals := range header {
			req.Header[key] = vals
		}
		req.Header.Set("Connection", "close")
		req.SetBasicAuth(c.conf.Username, c.conf.Password)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		for _, code := range accept {
			if status == code {
				return nil
			}
		}
		return &statusError{status: status, body: string(respBody)}
	})
	return status, respBody, err
}

// IsProjectIgnored reports whether the queued project should be dropped.
// A project the backend no longer knows is treated as ignored.
func (c *Client) IsProjectIgnored(ctx context.Context, projectID int64) (bool, error) {
	status, _, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/projects/%d/is-ignored", projectID), nil, nil,
		http.StatusOK, http.StatusNoContent, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	return status != http.StatusNoContent, nil
}

// GetWorkflow fetches a workflow with its definition.
func (c *Client) GetWorkflow(ctx context.Context, workflowID int64) (*model.Workflow, error) {
	_, body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workflows/%d", workflowID), nil, nil,
		http.StatusOK)
	if err != nil {
		return nil, err
	}
	workflow := &model.Workflow{}
	if err := json.Unmarshal(body, workflow); err != nil {
		return nil, fmt.Errorf("decoding workflow %d: %w", workflowID, err)
	}
	return workflow, nil
}

// PostWorkflowLog forwards one raw engine log event.
func (c *Client) PostWorkflowLog(ctx context.Context, projectID int64, engine model.Engine, raw []byte) error {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Workflow-Engine", string(engine))
	_, _, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/projects/%d/workflow-log", projectID), header, raw,
		http.StatusOK)
	return err
}

// MarkProjectFinished tells the backend the run is over.
func (c *Client) MarkProjectFinished(ctx context.Context, projectID int64) error {
	_, _, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/projects/%d/finished", projectID), nil, nil,
		http.StatusOK)
	return err
}
