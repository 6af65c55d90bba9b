package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the daemon event stream",
	Long: `Connects to the merged lifecycle/log/config event stream and prints
each event as it arrives. Only events published after the connection
opens are delivered. Interrupt with Ctrl-C.`,
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(apiURL + "/v1/events")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: unexpected status %s\n", resp.Status)
			os.Exit(1)
		}

		var eventType string
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				if output == "json" {
					fmt.Printf(`{"event":%q,"data":%s}`+"\n", eventType, data)
				} else {
					fmt.Printf("%-24s %s\n", eventType, data)
				}
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: stream closed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
