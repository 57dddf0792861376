package protocol

import "encoding/json"

// Inbound envelope types.
const (
	TypeData        = "data"
	TypeStarted     = "started"
	TypeStopped     = "stopped"
	TypeServerError = "server:error"
	TypeServerLog   = "server:log"
)

// HostType is the type of a host-to-app message.
type HostType string

const (
	HostStart HostType = "start"
	HostStop  HostType = "stop"
	HostPurge HostType = "purge"
	HostData  HostType = "data"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Version string          `json:"version,omitempty"`
}

// Message is a decoded app-to-host message.
type Message interface {
	messageType() string
}

// DataMessage is an app-originated business event.
type DataMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// StartedMessage reports that the app finished starting.
type StartedMessage struct{}

// StoppedMessage reports that the app stopped itself.
type StoppedMessage struct{}

// ErrorMessage reports an error inside the app. It does not end the app.
type ErrorMessage struct {
	Message string `json:"message"`
}

// LogMessage is a log line the app wants recorded under its namespace.
type LogMessage struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

func (DataMessage) messageType() string    { return TypeData }
func (StartedMessage) messageType() string { return TypeStarted }
func (StoppedMessage) messageType() string { return TypeStopped }
func (ErrorMessage) messageType() string   { return TypeServerError }
func (LogMessage) messageType() string     { return TypeServerLog }

// TypeOf returns the envelope type of m.
func TypeOf(m Message) string { return m.messageType() }

// HostMessage is a host-to-app message.
type HostMessage struct {
	Type    HostType
	Payload any
}
