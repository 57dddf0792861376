package wsplatform

import (
	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

const (
	frameHello   = "hello"
	frameData    = "data"
	framePing    = "ping"
	framePong    = "pong"
	frameUpdate  = "update"
	frameRefresh = "refresh"
)

// frame is the single wire shape for both directions; unused fields are
// omitted.
type frame struct {
	Type string `json:"type"`

	DeviceID     string             `json:"deviceId,omitempty"`
	Serial       string             `json:"serial,omitempty"`
	Token        string             `json:"token,omitempty"`
	Name         string             `json:"name,omitempty"`
	Capabilities []types.Capability `json:"capabilities,omitempty"`
	Meta         map[string]any     `json:"meta,omitempty"`

	App      string `json:"app,omitempty"`
	DataType string `json:"dataType,omitempty"`
	Request  string `json:"request,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	err := sonic.Unmarshal(raw, &f)
	return f, err
}

func encodeFrame(f frame) ([]byte, error) {
	return sonic.Marshal(f)
}

func dataFrame(data types.DeviceData) frame {
	return frame{
		Type:     frameData,
		App:      data.App,
		DataType: data.Type,
		Request:  data.Request,
		Payload:  data.Payload,
		ClientID: data.ClientID,
	}
}

func (f frame) deviceData() types.DeviceData {
	return types.DeviceData{
		App:     f.App,
		Type:    f.DataType,
		Request: f.Request,
		Payload: f.Payload,
	}
}
