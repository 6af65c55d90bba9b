package core

// Binary identifies an installed agent-server executable.
type Binary struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Label   string `json:"label"`
	Version string `json:"version,omitempty"`
}
