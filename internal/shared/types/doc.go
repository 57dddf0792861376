// Package types provides the data structures shared by the runtime's
// components.
//
// Core Types:
//   - App, Manifest: Installed app and its static metadata
//   - Client, Identifier: Canonical device record and its per-platform entries
//   - Observation: A single platform's view of a device
//   - ProgressEvent: One report on a progress channel
//
// Enumerations:
//   - ConnectionState: Established, Connected, Disconnected
//   - Capability: Numeric provider capability codes
//   - ProgressStatus: Running, Info, Warn, Complete, Error
//
// Example Usage:
//
//	app := types.App{
//	    Name:     "spotify",
//	    Enabled:  true,
//	    Manifest: &types.Manifest{ID: "spotify", Version: "0.11.2"},
//	}
package types
