package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppListFile is the name of the persisted app list inside the data dir.
const AppListFile = "apps.json"

// Layout roots the runtime's directories.
type Layout struct {
	AppsDir string
	DataDir string
}

// New returns a layout for the given roots.
func New(appsDir, dataDir string) Layout {
	return Layout{AppsDir: appsDir, DataDir: dataDir}
}

// AppList returns the path of the persisted app list.
func (l Layout) AppList() string {
	return filepath.Join(l.DataDir, AppListFile)
}

// AppSource returns the directory an app is installed in.
func (l Layout) AppSource(name string) string {
	return filepath.Join(l.AppsDir, name)
}

// AppData returns the directory holding an app's private data, or "" when
// the layout has no data dir.
func (l Layout) AppData(name string) string {
	if l.DataDir == "" {
		return ""
	}
	return filepath.Join(l.DataDir, "apps", name)
}

// Ensure creates the root directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.AppsDir, l.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateAppName rejects names that are not a single path component.
func ValidateAppName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("app name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("app name %q is reserved", name)
	case strings.ContainsAny(name, `/\`) || name != filepath.Base(name):
		return fmt.Errorf("app name %q contains path separators", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("app name contains invalid characters")
	}
	return nil
}
