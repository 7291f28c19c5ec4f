package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	submitQuery string
	submitFile  string
	chatUser    string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue an analysis on a running server",
	Long: `Queue an analysis on a running server. --file is a path the server can
read; the job id is printed on success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			JobID string `json:"job_id"`
		}
		body := map[string]string{"query": submitQuery, "file_path": submitFile}
		if err := apiCall(http.MethodPost, "/api/analyze/async", body, http.StatusAccepted, &resp); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show an async job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job orchestrator.Job
		if err := apiCall(http.MethodGet, "/api/jobs/"+args[0], nil, http.StatusOK, &job); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Job %s: %s (updated %s)\n", job.ID, job.Status, job.UpdatedAt.Format(time.RFC3339))
		switch job.Status {
		case orchestrator.JobFailed:
			fmt.Fprintln(out, job.Error)
		case orchestrator.JobDone:
			res, err := orchestrator.DecodeAggregated(job.Result)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Format())
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running server through the REST gateway",
	RunE:  runChat,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, jobCmd, chatCmd} {
		c.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "finsight server URL")
	}
	submitCmd.Flags().StringVarP(&submitQuery, "query", "q", "", "Question for the analyst")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Document path on the server")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "cli-user", "User name for chat")
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// apiCall sends body as JSON and decodes a want-status response into out.
func apiCall(method, path string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "finsight chat")
	fmt.Fprintf(out, "Server: %s | User: %s\n", serverURL, chatUser)
	fmt.Fprintln(out, "Type 'exit' or 'quit' to leave. /help lists server commands, /adapters shows gateway status.")
	fmt.Fprintln(out, "---")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case "/adapters":
			printAdapters(cmd)
			continue
		}

		var reply struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		body := map[string]string{"user_id": chatUser, "user_name": chatUser, "content": input}
		if err := apiCall(http.MethodPost, "/api/gateway/rest/message", body, http.StatusOK, &reply); err != nil {
			printError(cmd, "%v", err)
			continue
		}
		if reply.Role != "" {
			fmt.Fprintf(out, "\033[36m[%s]\033[0m %s\n", reply.Role, reply.Content)
		} else {
			fmt.Fprintln(out, reply.Content)
		}
	}
}

func printAdapters(cmd *cobra.Command) {
	var statuses []struct {
		Platform  string `json:"platform"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := apiCall(http.MethodGet, "/api/gateway/status", nil, http.StatusOK, &statuses); err != nil {
		printError(cmd, "Failed to fetch status: %v", err)
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Gateway Status:")
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Fprintf(out, "  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Fprintf(out, " (%s)", s.Details)
		}
		if s.Error != "" {
			fmt.Fprintf(out, " \033[31m%s\033[0m", s.Error)
		}
		fmt.Fprintln(out)
	}
}

func printError(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "\033[31m"+format+"\033[0m\n", args...)
}
