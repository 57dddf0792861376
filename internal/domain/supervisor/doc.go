// Package supervisor runs each app in its own execution context and speaks
// the app protocol to it.
//
// A Supervisor holds at most one Handle per app name. Contexts are created
// by a Loader (a subprocess or an embedded script VM) and report back only
// through the Hooks passed to Spawn. A hook from a handle that has since
// been replaced or removed is ignored, so a late exit from a terminated
// context cannot disturb its successor.
//
// Handle states move Spawning -> Running -> Stopped | Errored | Exited, and
// every terminal state removes the handle.
package supervisor
