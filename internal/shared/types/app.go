package types

import "time"

// Manifest is the static metadata shipped with an app.
type Manifest struct {
	ID          string   `json:"id"`
	Label       string   `json:"label,omitempty"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Requires lists apps that must be running before this one may start.
	Requires []string `json:"requires,omitempty"`

	// RequiredVersions maps a component ("server", "client") to a
	// version constraint such as ">=0.10.0 <0.12.0".
	RequiredVersions map[string]string `json:"requiredVersions,omitempty"`

	// Runtime selects the loader ("exec" or "script"). Empty means the
	// loader is inferred from the entry point.
	Runtime string `json:"runtime,omitempty"`

	// Entry is the entry point relative to the app directory.
	Entry string `json:"entry,omitempty"`
}

// App is an installed app and its lifecycle flags.
type App struct {
	Name        string         `json:"name"`
	Enabled     bool           `json:"enabled"`
	Running     bool           `json:"running"`
	Order       int            `json:"order"`
	TimeStarted *time.Time     `json:"timeStarted,omitempty"`
	Manifest    *Manifest      `json:"manifest,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (a App) Clone() App {
	out := a
	if a.TimeStarted != nil {
		ts := *a.TimeStarted
		out.TimeStarted = &ts
	}
	if a.Manifest != nil {
		m := *a.Manifest
		m.Tags = append([]string(nil), a.Manifest.Tags...)
		m.Requires = append([]string(nil), a.Manifest.Requires...)
		if a.Manifest.RequiredVersions != nil {
			m.RequiredVersions = make(map[string]string, len(a.Manifest.RequiredVersions))
			for k, v := range a.Manifest.RequiredVersions {
				m.RequiredVersions[k] = v
			}
		}
		out.Manifest = &m
	}
	if a.Meta != nil {
		out.Meta = make(map[string]any, len(a.Meta))
		for k, v := range a.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// Requires returns the app's dependency list.
func (a App) Requires() []string {
	if a.Manifest == nil {
		return nil
	}
	return a.Manifest.Requires
}
