// Package progress implements the process-wide progress bus.
//
// Subsystems report on named channels. An operation is a channel with
// weighted sub-channels; every report on a sub-channel recomputes the
// weighted progress of each parent and re-emits on it, so a leaf update
// ripples to the top of the tree before Emit returns. A channel may be a
// sub-channel of several operations at once.
//
// A child's Error arrives at its parents as Warn, and a child's Complete
// arrives as Running: only the owner of an operation decides when it ends.
// Completing an operation completes and unlinks its sub-channels.
package progress
