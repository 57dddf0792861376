package server

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/paths"
)

// discoverApps returns the names of the app directories directly under
// root, sorted. Hidden and invalid names are skipped. A missing root
// yields no apps.
func discoverApps(root string) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		names []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := filepath.Base(p)
		if !strings.HasPrefix(name, ".") && paths.ValidateAppName(name) == nil {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}
