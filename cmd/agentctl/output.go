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
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPID\tPORT\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ws.ID, ws.Name, ws.Status, intOrDash(ws.PID), intOrDash(ws.Port), ws.CreatedAt)
		}
	case WorkspaceRow:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Name:\t%s\n", data.Name)
		fmt.Fprintf(w, "Path:\t%s\n", data.Path)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "PID:\t%s\n", intOrDash(data.PID))
		fmt.Fprintf(w, "Port:\t%s\n", intOrDash(data.Port))
		fmt.Fprintf(w, "Proxy path:\t%s\n", data.ProxyPath)
		if data.Error != "" {
			fmt.Fprintf(w, "Error:\t%s\n", data.Error)
		}
	case []BinaryRow:
		if len(data) == 0 {
			fmt.Println("No binaries registered.")
			return
		}
		fmt.Fprintln(w, "ID\tLABEL\tVERSION\tPATH")
		for _, b := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.Label, b.Version, b.Path)
		}
	case []FileRow:
		if len(data) == 0 {
			fmt.Println("Empty directory.")
			return
		}
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, f := range data {
			name := f.Name
			if f.IsDir {
				name += "/"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", name, f.Size, f.ModTime)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func intOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *p)
}
