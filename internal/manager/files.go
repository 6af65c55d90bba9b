package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lzjever/mbos-agentd/internal/core"
)

// FileInfo is one entry in a workspace folder listing.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// maxReadSize caps ReadFile so a stray binary cannot balloon a
// response; the UI only renders text files.
const maxReadSize = 4 << 20

// ListFiles lists a directory inside the workspace folder. rel is
// relative to the workspace root; traversal outside it is rejected.
func (m *Manager) ListFiles(id, rel string) ([]FileInfo, error) {
	root, err := m.workspaceRoot(id)
	if err != nil {
		return nil, err
	}
	dir, err := scopedPath(root, rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, fmt.Sprintf("read dir: %v", err))
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		relPath, _ := filepath.Rel(root, filepath.Join(dir, e.Name()))
		out = append(out, FileInfo{
			Name:    e.Name(),
			Path:    relPath,
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ReadFile returns the content of one file inside the workspace folder.
func (m *Manager) ReadFile(id, rel string) ([]byte, error) {
	root, err := m.workspaceRoot(id)
	if err != nil {
		return nil, err
	}
	path, err := scopedPath(root, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, core.NewAppError(core.ErrNotFound, fmt.Sprintf("stat: %v", err))
	}
	if info.IsDir() {
		return nil, core.NewAppError(core.ErrBadRequest, "path is a directory")
	}
	if info.Size() > maxReadSize {
		return nil, core.NewAppError(core.ErrBadRequest,
			fmt.Sprintf("file exceeds %d bytes", maxReadSize))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewAppError(core.ErrInternal, fmt.Sprintf("read file: %v", err))
	}
	return b, nil
}

func (m *Manager) workspaceRoot(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return "", core.NewAppError(core.ErrNotFound, "workspace not found")
	}
	return ws.Path, nil
}

// scopedPath joins rel onto root and rejects anything that escapes it.
func scopedPath(root, rel string) (string, error) {
	joined := filepath.Join(root, filepath.Clean("/"+rel))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", core.NewAppError(core.ErrBadRequest, "path escapes workspace folder")
	}
	return joined, nil
}
