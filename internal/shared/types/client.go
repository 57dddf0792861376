package types

import "time"

// ConnectionState is the coarse reachability of a client.
type ConnectionState string

const (
	// StateEstablished means a transport link exists but the device has
	// not completed its handshake.
	StateEstablished  ConnectionState = "established"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// PlatformID names a transport kind.
type PlatformID string

const (
	PlatformWebSocket PlatformID = "websocket"
	PlatformADB       PlatformID = "adb"
	PlatformBluetooth PlatformID = "bluetooth"
)

// Capability is a numeric provider capability code. The score of an
// identifier is the sum of its codes.
type Capability int

const (
	CapabilityPing        Capability = 1
	CapabilityConfigure   Capability = 2
	CapabilityCommunicate Capability = 3
)

// Identifier is one platform's entry on a client.
type Identifier struct {
	ID           string       `json:"id"`
	ProviderID   PlatformID   `json:"providerId"`
	Active       bool         `json:"active"`
	Established  bool         `json:"established,omitempty"`
	Capabilities []Capability `json:"capabilities"`
}

// Score returns the sum of the identifier's capability codes.
func (i Identifier) Score() int {
	total := 0
	for _, c := range i.Capabilities {
		total += int(c)
	}
	return total
}

// Has reports whether the identifier advertises c.
func (i Identifier) Has(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Client is the canonical record of one physical device.
type Client struct {
	ClientID          string          `json:"clientId"`
	ConnectionState   ConnectionState `json:"connectionState"`
	PrimaryProviderID PlatformID      `json:"primaryProviderId,omitempty"`

	// Identifiers holds at most one entry per platform, in the order the
	// platforms were first observed.
	Identifiers []Identifier `json:"identifiers"`

	Name        string         `json:"name,omitempty"`
	Serial      string         `json:"serial,omitempty"`
	Token       string         `json:"token,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	ConnectedAt *time.Time     `json:"connectedAt,omitempty"`
}

// Identifier returns the entry for platform p.
func (c *Client) Identifier(p PlatformID) (Identifier, bool) {
	for _, ident := range c.Identifiers {
		if ident.ProviderID == p {
			return ident, true
		}
	}
	return Identifier{}, false
}

// Primary returns the identifier of the primary provider.
func (c *Client) Primary() (Identifier, bool) {
	if c.PrimaryProviderID == "" {
		return Identifier{}, false
	}
	return c.Identifier(c.PrimaryProviderID)
}

// Clone returns a deep copy safe to hand to callers.
func (c Client) Clone() Client {
	out := c
	out.Identifiers = make([]Identifier, len(c.Identifiers))
	for i, ident := range c.Identifiers {
		ident.Capabilities = append([]Capability(nil), ident.Capabilities...)
		out.Identifiers[i] = ident
	}
	if c.Meta != nil {
		out.Meta = make(map[string]any, len(c.Meta))
		for k, v := range c.Meta {
			out.Meta[k] = v
		}
	}
	if c.ConnectedAt != nil {
		ts := *c.ConnectedAt
		out.ConnectedAt = &ts
	}
	return out
}

// Observation is what a single platform reports about a device.
type Observation struct {
	PlatformID   PlatformID     `json:"platformId"`
	LocalID      string         `json:"localId"`
	Capabilities []Capability   `json:"capabilities"`
	Established  bool           `json:"established,omitempty"`
	Name         string         `json:"name,omitempty"`
	Serial       string         `json:"serial,omitempty"`
	Token        string         `json:"token,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// ClientPatch is a partial update pushed to a platform's view of a client.
type ClientPatch struct {
	Name *string        `json:"name,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// DeviceData is a message exchanged between an app and a client device.
type DeviceData struct {
	App      string `json:"app"`
	Type     string `json:"type"`
	Request  string `json:"request,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}
