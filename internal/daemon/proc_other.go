//go:build !linux

package daemon

// SystemProcesses returns the process lister for this platform, or nil
// when process monitoring is not supported.
func SystemProcesses() ProcessLister {
	return nil
}
