package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type FileRow struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime string `json:"mod_time"`
}

type FileListResponse struct {
	Path    string    `json:"path"`
	Entries []FileRow `json:"entries"`
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Browse workspace folders",
}

var filesLsCmd = &cobra.Command{
	Use:   "ls <workspace-id> [path]",
	Short: "List a directory inside the workspace folder",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		rel := ""
		if len(args) == 2 {
			rel = args[1]
		}
		client := NewClient(apiURL)

		var resp FileListResponse
		path := "/v1/workspaces/" + args[0] + "/files?path=" + url.QueryEscape(rel)
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Entries)
	},
}

var filesCatCmd = &cobra.Command{
	Use:   "cat <workspace-id> <path>",
	Short: "Print a file from the workspace folder",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		path := "/v1/workspaces/" + args[0] + "/file?path=" + url.QueryEscape(args[1])
		b, err := client.GetRaw(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(b)
	},
}

func init() {
	filesCmd.AddCommand(filesLsCmd, filesCatCmd)
	rootCmd.AddCommand(filesCmd)
}
