// Package id generates sortable identifiers for records the runtime
// creates itself.
//
// Clients normally keep the id their first transport reported; a ULID is
// only minted when a transport reports none. Transport connections that
// have no device-supplied id get a prefixed ULID as well.
package id

import "github.com/oklog/ulid/v2"

// ClientID identifies a canonical client record.
type ClientID string

// ConnectionID identifies a single transport connection.
type ConnectionID string

const (
	ClientPrefix     = "client"
	ConnectionPrefix = "conn"
)

// NewClientID mints a client id.
func NewClientID() ClientID {
	return ClientID(withPrefix(ClientPrefix))
}

// NewConnectionID mints a connection id.
func NewConnectionID() ConnectionID {
	return ConnectionID(withPrefix(ConnectionPrefix))
}

func (id ClientID) String() string     { return string(id) }
func (id ConnectionID) String() string { return string(id) }

// ulid.Make is safe for concurrent use and monotonic within a millisecond.
func withPrefix(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

// IsValid reports whether s is a bare ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
