// Package registry provides the authoritative list of installed apps.
//
// The registry owns every App record and drives the supervisor: it spawns
// and terminates execution contexts and tracks their lifecycle flags.
//
// Components:
//   - Manager: lifecycle operations, ordering and persistence
//
// Features:
//   - Dependency check before start (every required app must be running)
//   - Server version constraints from the manifest
//   - Grace period before force-terminating on disable and purge
//   - Idempotent purge that also deletes the app's on-disk data
//   - Debounced write-through: a burst of changes produces one store write
//     and one change notification
//
// Invariant: an app is never marked running unless it is enabled.
//
// Example Usage:
//
//	mgr := registry.NewManager(sup, store.NewFileStore(dataDir), registry.DefaultOptions(), logger)
//	if err := mgr.Load(ctx); err != nil { ... }
//	mgr.Start(ctx, "weather")
//	defer mgr.Close()
package registry
