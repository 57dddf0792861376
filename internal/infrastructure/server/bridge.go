package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// AppPoster delivers host messages to running apps.
type AppPoster interface {
	PostMessage(app string, msg protocol.HostMessage)
	IsRunning(app string) bool
}

// DeviceSender delivers app data to devices.
type DeviceSender interface {
	SendData(ctx context.Context, clientID string, data types.DeviceData, required ...types.Capability) bool
	Broadcast(ctx context.Context, data types.DeviceData) error
}

// Bridge routes data between apps and devices. App data naming a
// clientId in its payload goes to that client only; everything else is
// broadcast. Device data is forwarded to the app it names.
type Bridge struct {
	apps    AppPoster
	devices DeviceSender
	logger  *zap.Logger
	timeout time.Duration
}

// NewBridge creates a bridge.
func NewBridge(apps AppPoster, devices DeviceSender, logger *zap.Logger) *Bridge {
	return &Bridge{apps: apps, devices: devices, logger: logger, timeout: 5 * time.Second}
}

// FromApp forwards an app's data event to devices.
func (b *Bridge) FromApp(d registry.AppData) {
	data := types.DeviceData{App: d.App, Type: d.Type, Request: d.Request, Payload: d.Payload}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if target := targetClient(d.Payload); target != "" {
		data.ClientID = target
		if !b.devices.SendData(ctx, target, data, types.CapabilityCommunicate) {
			b.logger.Debug("App data not delivered",
				zap.String("app", d.App),
				zap.String("type", d.Type),
				zap.String("client", target),
			)
		}
		return
	}
	if err := b.devices.Broadcast(ctx, data); err != nil {
		b.logger.Warn("App data broadcast failed",
			zap.String("app", d.App),
			zap.String("type", d.Type),
			zap.Error(err),
		)
	}
}

// FromDevice forwards a device's data to the app it names. Data for an app
// that is not running is dropped.
func (b *Bridge) FromDevice(in platform.Inbound) {
	app := in.Data.App
	if app == "" || !b.apps.IsRunning(app) {
		b.logger.Debug("Device data dropped",
			zap.String("app", app),
			zap.String("client", in.ClientID),
			zap.String("type", in.Data.Type),
		)
		return
	}

	payload := map[string]any{
		"type":     in.Data.Type,
		"clientId": in.ClientID,
	}
	if in.Data.Request != "" {
		payload["request"] = in.Data.Request
	}
	if in.Data.Payload != nil {
		payload["payload"] = in.Data.Payload
	}
	b.apps.PostMessage(app, protocol.HostMessage{Type: protocol.HostData, Payload: payload})
}

func targetClient(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["clientId"].(string)
	return id
}
