package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type WorkspaceRow struct {
	ID           string `json:"id"`
	UserFacingID string `json:"user_facing_id"`
	DisplayName  string `json:"display_name"`
	Stage        string `json:"stage"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceRow `json:"workspaces"`
	NextCursor string         `json:"next_cursor"`
}

type JobRef struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_href"`
}

var (
	wsDisplayName string
	wsDescription string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsCreateCmd = &cobra.Command{
	Use:   "create <user-facing-id>",
	Short: "Create a new workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]string{"user_facing_id": args[0]}
		if wsDisplayName != "" {
			req["display_name"] = wsDisplayName
		}
		if wsDescription != "" {
			req["description"] = wsDescription
		}

		var resp JobRef
		if err := client.Post("/v1/workspaces", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Workspace creation job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
		fmt.Printf("Check status: wsmctl job get %s\n", resp.JobID)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <workspace-id>",
	Short: "Get workspace details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws WorkspaceRow
		if err := client.Get("/v1/workspaces/"+args[0], &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp WorkspaceListResponse
		if err := client.Get("/v1/workspaces", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Workspaces)
	},
}

var wsDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id>",
	Short: "Delete a workspace and everything in it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp JobRef
		if err := client.Delete("/v1/workspaces/"+args[0], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace deletion job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
	},
}

var wsCloneCmd = &cobra.Command{
	Use:   "clone <source-workspace-id> <dest-user-facing-id>",
	Short: "Clone a workspace and its resources",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"destination": map[string]string{"user_facing_id": args[1]},
		}
		var resp JobRef
		if err := client.Post("/v1/workspaces/"+args[0]+"/clone", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace clone job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
		fmt.Printf("Check status: wsmctl job watch %s\n", resp.JobID)
	},
}

var wsPoliciesCmd = &cobra.Command{
	Use:   "policies <workspace-id>",
	Short: "Show workspace policies",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp map[string]interface{}
		if err := client.Get("/v1/workspaces/"+args[0]+"/policies", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

var wsLastChangedCmd = &cobra.Command{
	Use:   "last-changed <workspace-id>",
	Short: "Show when the workspace last changed, per change type",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp map[string]interface{}
		if err := client.Get("/v1/workspaces/"+args[0]+"/last-changed", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

var contextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"ctx"},
	Short:   "Cloud context management commands",
}

var ctxListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List the workspace's cloud contexts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp map[string]interface{}
		if err := client.Get("/v1/workspaces/"+args[0]+"/cloudcontexts", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

var ctxCreateCmd = &cobra.Command{
	Use:   "create <workspace-id> <platform>",
	Short: "Create a cloud context on the workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]string{"platform": args[1]}
		var resp JobRef
		if err := client.Post("/v1/workspaces/"+args[0]+"/cloudcontexts", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Cloud context creation job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
	},
}

var ctxDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id> <platform>",
	Short: "Delete a cloud context from the workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp JobRef
		if err := client.Delete("/v1/workspaces/"+args[0]+"/cloudcontexts/"+args[1], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Cloud context deletion job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
	},
}

func init() {
	wsCreateCmd.Flags().StringVar(&wsDisplayName, "display-name", "", "Workspace display name")
	wsCreateCmd.Flags().StringVar(&wsDescription, "description", "", "Workspace description")
	workspaceCmd.AddCommand(wsCreateCmd, wsGetCmd, wsListCmd, wsDeleteCmd, wsCloneCmd,
		wsPoliciesCmd, wsLastChangedCmd)
	contextCmd.AddCommand(ctxListCmd, ctxCreateCmd, ctxDeleteCmd)
	rootCmd.AddCommand(workspaceCmd, contextCmd)
}
