// Package store persists the installed-app list and coalesces bursts of
// writes into single flushes.
package store

import (
	"context"
	"sort"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// AppStore persists the installed-app list.
type AppStore interface {
	// Load returns every persisted app ordered by its Order field.
	Load(ctx context.Context) ([]types.App, error)

	// Save replaces the persisted app list.
	Save(ctx context.Context, apps []types.App) error

	// DeleteAppData removes an app's on-disk data. Deleting data that
	// does not exist is not an error.
	DeleteAppData(ctx context.Context, name string) error
}

// Record is the persisted shape of one app, keyed by name in the file.
type Record struct {
	Enabled  bool            `json:"enabled"`
	Running  bool            `json:"running"`
	Order    int             `json:"order"`
	Manifest *types.Manifest `json:"manifest,omitempty"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

// Document is the persisted app list.
type Document struct {
	Version int               `json:"version"`
	Apps    map[string]Record `json:"apps"`
}

const documentVersion = 1

func toDocument(apps []types.App) Document {
	doc := Document{Version: documentVersion, Apps: make(map[string]Record, len(apps))}
	for _, app := range apps {
		doc.Apps[app.Name] = Record{
			Enabled:  app.Enabled,
			Running:  app.Running,
			Order:    app.Order,
			Manifest: app.Manifest,
			Meta:     app.Meta,
		}
	}
	return doc
}

func fromDocument(doc Document) []types.App {
	apps := make([]types.App, 0, len(doc.Apps))
	for name, rec := range doc.Apps {
		apps = append(apps, types.App{
			Name:     name,
			Enabled:  rec.Enabled,
			Running:  rec.Running,
			Order:    rec.Order,
			Manifest: rec.Manifest,
			Meta:     rec.Meta,
		})
	}
	sort.SliceStable(apps, func(i, j int) bool {
		if apps[i].Order != apps[j].Order {
			return apps[i].Order < apps[j].Order
		}
		return apps[i].Name < apps[j].Name
	})
	return apps
}
