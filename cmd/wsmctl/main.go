package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	output string
	asUser string
)

var rootCmd = &cobra.Command{
	Use:   "wsmctl",
	Short: "WSM CLI - Workspace Manager command line tool",
	Long:  `wsmctl is a command line interface for the Workspace Manager (WSM).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "WSM API URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&asUser, "user", "u", "", "Identity to act as (X-User header)")
}
