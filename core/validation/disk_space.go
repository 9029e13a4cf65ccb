package validation

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiskSpaceError reports that the filesystem backing the image store is
// below the configured free-space floor.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, formatBytes(e.Required), formatBytes(e.Available))
}

// FreeBytes returns the free bytes on the filesystem containing path. A path
// that does not exist yet is resolved against its nearest existing parent.
func FreeBytes(path string) (int64, error) {
	for {
		info, err := os.Stat(path)
		if err == nil {
			if !info.IsDir() {
				path = filepath.Dir(path)
			}
			break
		}
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("validation: stat %s: %w", path, err)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, fmt.Errorf("validation: no existing parent for %s", path)
		}
		path = parent
	}

	_, free, err := getDiskSpace(path)
	if err != nil {
		return 0, fmt.Errorf("validation: disk space for %s: %w", path, err)
	}
	return free, nil
}

// CheckDiskSpace returns a *DiskSpaceError when fewer than requiredBytes are free.
func CheckDiskSpace(path string, requiredBytes int64) error {
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < requiredBytes {
		return &DiskSpaceError{Path: path, Required: requiredBytes, Available: free}
	}
	return nil
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
