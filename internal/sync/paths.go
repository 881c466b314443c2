package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths locates the shared replicas and this machine's private area inside
// the sync folder.
//
//	{SyncRoot}/{repo}.db                shared replica, one per repository
//	{MachineDir}/{repo}.lock            pass lock
//	{MachineDir}/{repo}.working.db      working copy during a pass
type Paths struct {
	SyncRoot   string
	MachineDir string
}

// NewPaths derives the layout. When root is empty (no cloud folder
// configured) the shared replicas live under {dataDir}/shared.
func NewPaths(root, appName, dataDir, machineName string) Paths {
	syncRoot := filepath.Join(dataDir, "shared")
	if root != "" {
		syncRoot = filepath.Join(root, appName)
	}
	return Paths{
		SyncRoot:   syncRoot,
		MachineDir: filepath.Join(syncRoot, SanitizeMachineName(machineName)),
	}
}

func (p Paths) SharedFile(repo string) string {
	return filepath.Join(p.SyncRoot, repo+".db")
}

func (p Paths) LockFile(repo string) string {
	return filepath.Join(p.MachineDir, repo+".lock")
}

func (p Paths) WorkingFile(repo string) string {
	return filepath.Join(p.MachineDir, repo+".working.db")
}

// Ensure creates the sync root and machine directory.
func (p Paths) Ensure() error {
	if err := os.MkdirAll(p.MachineDir, 0o755); err != nil {
		return fmt.Errorf("failed to create sync directories: %w", err)
	}
	return nil
}

// SanitizeMachineName maps a host name to a safe directory name.
func SanitizeMachineName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "machine"
	}
	return b.String()
}
