// Package identity fuses observations from independent transports into
// canonical client records.
//
// The same physical device may be reachable over several platforms at once,
// each reporting its own local id. The Engine decides for every observation
// whether it describes a known client, merges it into that client's record,
// and keeps the primary provider pointed at the active identifier with the
// highest capability score. Ties go to the platform observed first.
//
// Merges are last-writer-wins per field. A client whose identifiers have all
// been forgotten is pruned the next time the client list is read.
package identity
