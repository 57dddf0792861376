package protocol

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
)

func newTestCodec() *Codec { return NewCodec("0.11.2", "0.11.0") }

func TestDecodeCurrent(t *testing.T) {
	c := newTestCodec()

	tests := []struct {
		name string
		line string
		want Message
	}{
		{"started", `{"type":"started","version":"0.11.0"}`, StartedMessage{}},
		{"stopped", `{"type":"stopped","version":"0.11.0"}`, StoppedMessage{}},
		{"error string", `{"type":"server:error","payload":"bad","version":"0.11.0"}`, ErrorMessage{Message: "bad"}},
		{"log object", `{"type":"server:log","payload":{"level":"debug","message":"hi"},"version":"0.11.0"}`, LogMessage{Level: "debug", Message: "hi"}},
		{"data", `{"type":"data","payload":{"type":"send","request":"client","payload":42},"version":"0.12.0"}`,
			DataMessage{Type: "send", Request: "client", Payload: float64(42)}},
		{"untranslated data", `{"type":"data","payload":{"type":"toClient"},"version":"0.11.0"}`,
			DataMessage{Type: "toClient"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.Decode([]byte(tt.line))
			require.NoError(t, err)
			assert.False(t, d.Legacy)
			assert.Equal(t, tt.want, d.Message)
		})
	}
}

func TestDecodeLegacy(t *testing.T) {
	c := newTestCodec()

	d, err := c.Decode([]byte(`{"type":"data","payload":{"type":"toClient","payload":"x"},"version":"0.10.5"}`))
	require.NoError(t, err)
	assert.True(t, d.Legacy)
	assert.Equal(t, DataMessage{Type: "send", Request: "client", Payload: "x"}, d.Message)

	d, err = c.Decode([]byte(`{"type":"log","payload":"old style"}`))
	require.NoError(t, err)
	assert.True(t, d.Legacy)
	assert.Equal(t, LogMessage{Message: "old style"}, d.Message)
}

func TestDecodeRejects(t *testing.T) {
	c := newTestCodec()

	for _, line := range []string{
		`not json`,
		`{}`,
		`{"type":"teleport","version":"0.11.0"}`,
		`{"type":"data","version":"0.11.0"}`,
		`{"type":"data","payload":{"request":"x"},"version":"0.11.0"}`,
	} {
		_, err := c.Decode([]byte(line))
		assert.ErrorIs(t, err, errors.ErrProtocol, line)
	}
}

func TestEncode(t *testing.T) {
	c := newTestCodec()

	line, err := c.Encode(HostMessage{Type: HostData, Payload: map[string]any{"k": "v"}})
	require.NoError(t, err)
	require.Equal(t, byte('\n'), line[len(line)-1])

	var env map[string]any
	require.NoError(t, sonic.Unmarshal(line, &env))
	assert.Equal(t, "data", env["type"])
	assert.Equal(t, "0.11.2", env["version"])
	assert.Equal(t, map[string]any{"k": "v"}, env["payload"])

	line, err = c.Encode(HostMessage{Type: HostStart})
	require.NoError(t, err)
	assert.NotContains(t, string(line), "payload")

	_, err = c.Encode(HostMessage{Type: "reboot"})
	assert.ErrorIs(t, err, errors.ErrProtocol)
}
