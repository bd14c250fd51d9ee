package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

func printResult(v interface{}) {
	if output == "json" {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []WorkspaceRow:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tUSER-FACING ID\tDISPLAY NAME\tSTAGE\tCREATED BY\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(ws.ID), ws.UserFacingID, truncate(ws.DisplayName, 30), ws.Stage, ws.CreatedBy, ws.CreatedAt)
		}
	case []ResourceRow:
		if len(data) == 0 {
			fmt.Println("No resources found.")
			return
		}
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTEWARDSHIP\tCLONING")
		for _, r := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(r.ID), r.Name, r.Type, r.Stewardship, r.Cloning)
		}
	case []JobRow:
		if len(data) == 0 {
			fmt.Println("No jobs found.")
			return
		}
		fmt.Fprintln(w, "JOB ID\tOPERATION\tSTATUS\tSUBMITTED")
		for _, j := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(j.JobID), j.OperationType, j.Status, j.Submitted)
		}
	case JobRow:
		fmt.Fprintf(w, "Job ID:\t%s\n", data.JobID)
		fmt.Fprintf(w, "Workspace:\t%s\n", data.WorkspaceID)
		fmt.Fprintf(w, "Operation:\t%s\n", data.OperationType)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		if data.Description != "" {
			fmt.Fprintf(w, "Description:\t%s\n", data.Description)
		}
		if len(data.Response) > 0 {
			fmt.Fprintf(w, "Response:\t%s\n", string(data.Response))
		}
		if data.Error != nil {
			fmt.Fprintf(w, "Error:\t%s (%d)\n", data.Error.Message, data.Error.StatusCode)
			if data.Error.Fatal {
				fmt.Fprintln(w, "\trollback incomplete; operator attention required")
			}
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
