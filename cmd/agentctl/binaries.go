package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type BinaryRow struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Label   string `json:"label"`
	Version string `json:"version"`
}

type BinaryListResponse struct {
	Binaries []BinaryRow `json:"binaries"`
}

var binariesCmd = &cobra.Command{
	Use:     "binaries",
	Aliases: []string{"bin"},
	Short:   "Agent-server binary registry commands",
}

var binListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agent-server binaries",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp BinaryListResponse
		if err := client.Get("/v1/binaries", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Binaries)
	},
}

var binSetCmd = &cobra.Command{
	Use:   "set <path> [path...]",
	Short: "Replace the binary registry with the given paths",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		bins := make([]BinaryRow, 0, len(args))
		for _, p := range args {
			bins = append(bins, BinaryRow{Path: p})
		}

		var resp BinaryListResponse
		req := map[string]interface{}{"binaries": bins}
		if err := client.Put("/v1/binaries", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Binaries)
	},
}

func init() {
	binariesCmd.AddCommand(binListCmd, binSetCmd)
	rootCmd.AddCommand(binariesCmd)
}
