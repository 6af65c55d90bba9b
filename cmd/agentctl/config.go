package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type AppConfig struct {
	InstanceEnv map[string]string `json:"instance_env"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "App settings commands",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current app settings",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var app AppConfig
		if err := client.Get("/v1/config", &app); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(app)
	},
}

var configSetEnvCmd = &cobra.Command{
	Use:   "set-env KEY=VALUE [KEY=VALUE...]",
	Short: "Replace the extra environment passed to new instances",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env := make(map[string]string, len(args))
		for _, kv := range args {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				fmt.Fprintf(os.Stderr, "Error: %q is not KEY=VALUE\n", kv)
				os.Exit(1)
			}
			env[k] = v
		}
		client := NewClient(apiURL)

		var app AppConfig
		if err := client.Put("/v1/config", AppConfig{InstanceEnv: env}, &app); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(app)
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetEnvCmd)
	rootCmd.AddCommand(configCmd)
}
