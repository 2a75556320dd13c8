// Package project contains the "macworp project" operator commands.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var backendURL string

// Cmd represents the `macworp project` CLI command set.
var Cmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects through the backend API.",
}

func init() {
	Cmd.PersistentFlags().StringVar(&backendURL, "backend-url", "http://localhost:3001", "Base URL of the backend API")
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(ignoreCmd)
	Cmd.AddCommand(unignoreCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{"name": args[0]})
		if err != nil {
			return err
		}
		return request(http.MethodPost, "/api/projects", body)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a project.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid project ID: %q", args[0])
		}
		return request(http.MethodGet, fmt.Sprintf("/api/projects/%d", id), nil)
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore <id>",
	Short: "Ignore a project: queued runs are dropped, scheduling is refused.",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setIgnore(args[0], true) },
}

var unignoreCmd = &cobra.Command{
	Use:   "unignore <id>",
	Short: "Clear a project's ignore flag.",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setIgnore(args[0], false) },
}

func setIgnore(rawID string, ignore bool) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project ID: %q", rawID)
	}
	body, err := json.Marshal(map[string]bool{"ignore": ignore})
	if err != nil {
		return err
	}
	return request(http.MethodPost, fmt.Sprintf("/api/projects/%d/ignore", id), body)
}

func request(method, path string, body []byte) error {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(method, backendURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, respBody)
	}
	if len(respBody) > 0 {
		fmt.Println(string(bytes.TrimSpace(respBody)))
	}
	return nil
}
