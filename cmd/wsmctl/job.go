package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type JobErrorRow struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Fatal      bool   `json:"fatal"`
}

type JobRow struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	Description   string          `json:"description"`
	OperationType string          `json:"operation_type"`
	WorkspaceID   string          `json:"workspace_id"`
	Submitted     string          `json:"submitted"`
	Response      json.RawMessage `json:"response,omitempty"`
	Error         *JobErrorRow    `json:"error,omitempty"`
}

type JobListResponse struct {
	Jobs []JobRow `json:"jobs"`
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Job management commands",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Get job status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp JobRow
		if err := client.Get("/v1/jobs/"+args[0], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List the workspace's jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp JobListResponse
		if err := client.Get("/v1/workspaces/"+args[0]+"/jobs", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Jobs)
	},
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Watch a job until completion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		client := NewClient(apiURL)

		for {
			var resp JobRow
			if err := client.Get("/v1/jobs/"+jobID, &resp); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Job %s: %s\n", shortID(jobID), resp.Status)

			if resp.Status != "RUNNING" {
				printResult(resp)
				if resp.Status == "FAILED" {
					os.Exit(1)
				}
				break
			}

			time.Sleep(1 * time.Second)
		}
	},
}

func init() {
	jobCmd.AddCommand(jobGetCmd, jobListCmd, jobWatchCmd)
	rootCmd.AddCommand(jobCmd)
}
