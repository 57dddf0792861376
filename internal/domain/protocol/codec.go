package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
)

// Decoded is an inbound message together with how it was read.
type Decoded struct {
	Message Message
	Version string
	Legacy  bool
}

// Codec reads and writes envelopes. Version is stamped on every outbound
// envelope; Floor is the oldest sender version read without translation.
type Codec struct {
	Version string
	Floor   string
}

// NewCodec creates a codec.
func NewCodec(version, floor string) *Codec {
	return &Codec{Version: version, Floor: floor}
}

// Decode parses one line from an app. Malformed or unrecognized envelopes
// return an error wrapping errors.ErrProtocol.
func (c *Codec) Decode(line []byte) (Decoded, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(line, &env); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", errors.ErrProtocol, err)
	}
	if env.Type == "" {
		return Decoded{}, fmt.Errorf("%w: envelope has no type", errors.ErrProtocol)
	}

	out := Decoded{Version: env.Version, Legacy: IsLegacy(env.Version, c.Floor)}
	kind := env.Type
	if out.Legacy {
		kind = TranslateLegacyEnvelope(kind)
	}

	var err error
	switch kind {
	case TypeData:
		out.Message, err = decodeData(env.Payload, out.Legacy)
	case TypeStarted:
		out.Message = StartedMessage{}
	case TypeStopped:
		out.Message = StoppedMessage{}
	case TypeServerError:
		var m ErrorMessage
		m.Message, err = decodeText(env.Payload, &m)
		out.Message = m
	case TypeServerLog:
		var m LogMessage
		m.Message, err = decodeText(env.Payload, &m)
		out.Message = m
	default:
		return Decoded{}, fmt.Errorf("%w: unknown type %q", errors.ErrProtocol, env.Type)
	}
	if err != nil {
		return Decoded{}, err
	}
	return out, nil
}

// Encode frames a host message as a single line, newline included.
func (c *Codec) Encode(msg HostMessage) ([]byte, error) {
	switch msg.Type {
	case HostStart, HostStop, HostPurge, HostData:
	default:
		return nil, fmt.Errorf("%w: unknown host message %q", errors.ErrProtocol, msg.Type)
	}

	env := struct {
		Type    HostType `json:"type"`
		Payload any      `json:"payload,omitempty"`
		Version string   `json:"version,omitempty"`
	}{Type: msg.Type, Payload: msg.Payload, Version: c.Version}

	data, err := sonic.ConfigStd.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return append(data, '\n'), nil
}

func decodeData(raw []byte, legacy bool) (DataMessage, error) {
	var m DataMessage
	if len(raw) == 0 {
		return m, fmt.Errorf("%w: data message has no payload", errors.ErrProtocol)
	}
	if err := sonic.ConfigStd.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", errors.ErrProtocol, err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("%w: data message has no type", errors.ErrProtocol)
	}
	if legacy {
		tag := TranslateLegacy(Tag{Type: m.Type, Request: m.Request})
		m.Type, m.Request = tag.Type, tag.Request
	}
	return m, nil
}

// decodeText accepts either a bare string payload or an object decoded
// into obj, and returns the message text.
func decodeText(raw []byte, obj any) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := sonic.ConfigStd.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	if err := sonic.ConfigStd.Unmarshal(raw, obj); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrProtocol, err)
	}
	switch m := obj.(type) {
	case *ErrorMessage:
		return m.Message, nil
	case *LogMessage:
		return m.Message, nil
	}
	return "", nil
}
