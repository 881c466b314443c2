//go:build linux

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// procLister reads process names from /proc/<pid>/comm.
type procLister struct {
	root string
}

// SystemProcesses returns the process lister for this platform, or nil
// when process monitoring is not supported.
func SystemProcesses() ProcessLister {
	return procLister{root: "/proc"}
}

func (p procLister) Processes(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !isPID(e.Name()) {
			continue
		}
		// Processes can exit between ReadDir and ReadFile.
		data, err := os.ReadFile(filepath.Join(p.root, e.Name(), "comm"))
		if err != nil {
			continue
		}
		if name := strings.TrimSpace(string(data)); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func isPID(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
