package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type ResourceRow struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Stewardship string          `json:"stewardship"`
	Cloning     string          `json:"cloning_instructions"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type ResourceListResponse struct {
	Resources []ResourceRow `json:"resources"`
}

var (
	resStewardship string
	resCloning     string
	resAttributes  string
	cloneName      string
	cloneOverride  string
)

var resourceCmd = &cobra.Command{
	Use:     "resource",
	Aliases: []string{"res"},
	Short:   "Resource management commands",
}

var resCreateCmd = &cobra.Command{
	Use:   "create <workspace-id> <name> <type>",
	Short: "Create a resource in the workspace",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"name":                 args[1],
			"type":                 args[2],
			"stewardship":          resStewardship,
			"cloning_instructions": resCloning,
		}
		if resAttributes != "" {
			var attrs json.RawMessage
			if err := json.Unmarshal([]byte(resAttributes), &attrs); err != nil {
				fmt.Fprintf(os.Stderr, "Error: --attributes is not valid JSON: %v\n", err)
				os.Exit(1)
			}
			req["attributes"] = attrs
		}

		var resp JobRef
		if err := client.Post("/v1/workspaces/"+args[0]+"/resources", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resource creation job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
	},
}

var resGetCmd = &cobra.Command{
	Use:   "get <workspace-id> <resource-id>",
	Short: "Get resource details",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var res ResourceRow
		if err := client.Get("/v1/workspaces/"+args[0]+"/resources/"+args[1], &res); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(res)
	},
}

var resListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List the workspace's resources",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp ResourceListResponse
		if err := client.Get("/v1/workspaces/"+args[0]+"/resources", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Resources)
	},
}

var resDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id> <resource-id>",
	Short: "Delete a resource and its cloud artifact",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp JobRef
		if err := client.Delete("/v1/workspaces/"+args[0]+"/resources/"+args[1], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resource deletion job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
	},
}

var resCloneCmd = &cobra.Command{
	Use:   "clone <workspace-id> <resource-id> <dest-workspace-id>",
	Short: "Clone a resource into another workspace",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]string{"dest_workspace_id": args[2]}
		if cloneName != "" {
			req["name"] = cloneName
		}
		if cloneOverride != "" {
			req["cloning_instructions"] = cloneOverride
		}

		var resp JobRef
		if err := client.Post("/v1/workspaces/"+args[0]+"/resources/"+args[1]+"/clone", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resource clone job submitted.\n")
		fmt.Printf("Job ID: %s\n", resp.JobID)
		fmt.Printf("Check status: wsmctl job watch %s\n", resp.JobID)
	},
}

func init() {
	resCreateCmd.Flags().StringVar(&resStewardship, "stewardship", "CONTROLLED", "Stewardship (CONTROLLED, REFERENCED)")
	resCreateCmd.Flags().StringVar(&resCloning, "cloning", "RESOURCE", "Cloning instructions (NOTHING, REFERENCE, DEFINITION, RESOURCE)")
	resCreateCmd.Flags().StringVar(&resAttributes, "attributes", "", "Type-specific attributes as JSON")
	resCloneCmd.Flags().StringVar(&cloneName, "name", "", "Name for the cloned resource")
	resCloneCmd.Flags().StringVar(&cloneOverride, "cloning", "", "Override the source's cloning instructions")
	resourceCmd.AddCommand(resCreateCmd, resGetCmd, resListCmd, resDeleteCmd, resCloneCmd)
	rootCmd.AddCommand(resourceCmd)
}
