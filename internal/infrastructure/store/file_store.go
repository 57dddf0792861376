package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// FileStore keeps the app list and each app's private data in the data
// dir of a paths.Layout.
type FileStore struct {
	layout paths.Layout
	mu     sync.Mutex
}

// NewFileStore creates a store rooted at dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{layout: paths.Layout{DataDir: dataDir}}
}

// Load reads the app list. A missing file yields an empty list.
func (s *FileStore) Load(ctx context.Context) ([]types.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.listPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app list: %w", err)
	}

	var doc Document
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse app list: %w", err)
	}
	return fromDocument(doc), nil
}

// Save writes the app list atomically.
func (s *FileStore) Save(ctx context.Context, apps []types.App) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.layout.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := sonic.ConfigStd.MarshalIndent(toDocument(apps), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal app list: %w", err)
	}

	tmp, err := os.CreateTemp(s.layout.DataDir, "apps-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write app list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write app list: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.listPath()); err != nil {
		return fmt.Errorf("failed to replace app list: %w", err)
	}
	return nil
}

// DeleteAppData removes the app's private data directory.
func (s *FileStore) DeleteAppData(ctx context.Context, name string) error {
	if err := paths.ValidateAppName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(s.AppDataDir(name)); err != nil {
		return fmt.Errorf("failed to delete data for %s: %w", name, err)
	}
	return nil
}

// AppDataDir returns the directory holding an app's private data.
func (s *FileStore) AppDataDir(name string) string {
	return s.layout.AppData(name)
}

func (s *FileStore) listPath() string {
	return s.layout.AppList()
}
