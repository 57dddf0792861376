package supervisor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/paths"
)

// entryPatterns are tried in order when a manifest names no entry point.
var entryPatterns = []string{
	"index.js",
	"main.js",
	"dist/index.js",
	"server/index.js",
	"bin/app",
	"bin/*",
	"run",
	"*.sh",
	"**/index.js",
}

// DirResolver locates entry points under <AppsDir>/<app>.
type DirResolver struct {
	AppsDir string
	DataDir string
	Env     []string
}

// NewDirResolver creates a resolver rooted at appsDir.
func NewDirResolver(appsDir, dataDir string) *DirResolver {
	return &DirResolver{AppsDir: appsDir, DataDir: dataDir}
}

// Resolve returns the launch spec for app. An explicit entry must exist;
// otherwise the first file matching entryPatterns is used. An empty
// runtime is inferred from the entry's extension.
func (r *DirResolver) Resolve(app, entry, runtime string) (LaunchSpec, error) {
	if err := paths.ValidateAppName(app); err != nil {
		return LaunchSpec{}, fmt.Errorf("%w: %v", errors.ErrNoEntryPoint, err)
	}
	layout := paths.New(r.AppsDir, r.DataDir)
	dir := layout.AppSource(app)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return LaunchSpec{}, fmt.Errorf("%w: %s has no app directory", errors.ErrNoEntryPoint, app)
	}

	fsys := os.DirFS(dir)
	rel, err := r.find(fsys, entry)
	if err != nil {
		return LaunchSpec{}, fmt.Errorf("%w: %s: %v", errors.ErrNoEntryPoint, app, err)
	}

	if runtime == "" {
		runtime = inferRuntime(fsys, rel)
	}

	spec := LaunchSpec{
		App:     app,
		Dir:     dir,
		Entry:   filepath.Join(dir, filepath.FromSlash(rel)),
		Runtime: runtime,
		DataDir: layout.AppData(app),
		Env:     append([]string(nil), r.Env...),
	}
	return spec, nil
}

func (r *DirResolver) find(fsys fs.FS, entry string) (string, error) {
	if entry != "" {
		rel := filepath.ToSlash(filepath.Clean(entry))
		if strings.HasPrefix(rel, "../") || filepath.IsAbs(entry) {
			return "", fmt.Errorf("entry %q escapes app directory", entry)
		}
		if !isFile(fsys, rel) {
			return "", fmt.Errorf("entry %q not found", entry)
		}
		return rel, nil
	}

	for _, pattern := range entryPatterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", err
		}
		for _, m := range matches {
			if strings.Contains(m, "node_modules/") {
				continue
			}
			return m, nil
		}
	}
	return "", fmt.Errorf("no file matches a known entry pattern")
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}

// inferRuntime picks a loader from the extension, falling back to content
// sniffing for extensionless entries such as a node shebang script.
func inferRuntime(fsys fs.FS, entry string) string {
	switch strings.ToLower(filepath.Ext(entry)) {
	case ".js", ".cjs":
		return RuntimeScript
	case "":
		f, err := fsys.Open(entry)
		if err != nil {
			return RuntimeExec
		}
		defer f.Close()
		if mt, err := mimetype.DetectReader(f); err == nil && mt.Is("text/javascript") {
			return RuntimeScript
		}
	}
	return RuntimeExec
}
