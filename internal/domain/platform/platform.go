package platform

import (
	"context"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Options configures a platform at start.
type Options struct {
	Address  string
	Settings map[string]string
}

// Inbound is data a device sent through a platform. ClientID is filled in
// by the Registry with the canonical id.
type Inbound struct {
	Platform types.PlatformID `json:"platform"`
	LocalID  string           `json:"localId"`
	ClientID string           `json:"clientId,omitempty"`
	Data     types.DeviceData `json:"data"`
}

// Status is a platform's running state.
type Status struct {
	Platform types.PlatformID `json:"platform"`
	Running  bool             `json:"running"`
	Message  string           `json:"message,omitempty"`
}

// Events are the signals a platform emits. The zero value is ready to use.
type Events struct {
	ClientConnected    event.Emitter[types.Observation]
	ClientDisconnected event.Emitter[string]
	ClientUpdated      event.Emitter[types.Observation]
	ClientList         event.Emitter[[]types.Observation]
	DataReceived       event.Emitter[Inbound]
	Error              event.Emitter[error]
	StatusChanged      event.Emitter[Status]
	ServerStarted      event.Emitter[string]
}

// Platform is a transport plugin. Local ids are scoped to the platform.
type Platform interface {
	ID() types.PlatformID
	Name() string
	Capabilities() []types.Capability

	Start(ctx context.Context, opts Options) error
	Stop(ctx context.Context) error
	IsRunning() bool

	// SendData delivers data to one device and reports whether it was
	// accepted by the transport.
	SendData(ctx context.Context, localID string, data types.DeviceData) bool
	BroadcastData(ctx context.Context, data types.DeviceData) error

	// FetchClients returns the devices the platform can currently reach.
	FetchClients(ctx context.Context) ([]types.Observation, error)
	// RefreshClients asks the platform to re-announce its devices as a
	// ClientList event.
	RefreshClients(ctx context.Context) bool
	// RefreshClient re-reads one device's live state.
	RefreshClient(ctx context.Context, localID string, force bool) (types.Observation, bool)
	// UpdateClient applies a patch to the platform's view of a device and,
	// if propagate is set, forwards it to the device.
	UpdateClient(localID string, patch types.ClientPatch, propagate bool)

	Events() *Events
}

// Info describes a registered platform.
type Info struct {
	ID           types.PlatformID   `json:"id"`
	Name         string             `json:"name"`
	Running      bool               `json:"running"`
	Capabilities []types.Capability `json:"capabilities"`
}
