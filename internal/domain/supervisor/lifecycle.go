package supervisor

import "github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"

// LifecycleKind classifies a lifecycle event.
type LifecycleKind string

const (
	LifecycleOnline  LifecycleKind = "online"
	LifecycleStarted LifecycleKind = "started"
	LifecycleStopped LifecycleKind = "stopped"
	LifecycleExited  LifecycleKind = "exited"
	LifecycleError   LifecycleKind = "error"
	LifecycleData    LifecycleKind = "data"
)

// Lifecycle is emitted for every state change and app data message.
// Terminal is set when the app's handle has been removed.
type Lifecycle struct {
	App      string
	Kind     LifecycleKind
	Terminal bool
	Code     int
	Err      error
	Data     *protocol.DataMessage
}
