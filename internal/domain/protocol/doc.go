// Package protocol defines the message vocabulary exchanged between the host
// and an app's execution context, and the codec for its JSON-lines framing.
//
// Every inbound envelope carries the sender's semantic version. Envelopes
// from senders older than the host's floor are run through TranslateLegacy
// before dispatch, so the wire vocabulary can evolve while old apps keep
// working.
package protocol
