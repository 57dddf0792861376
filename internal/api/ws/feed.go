package ws

import (
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Sources are the event producers a Hub can follow. Each returns an
// unsubscribe function.
type Sources struct {
	Progress           func(func(types.ProgressEvent)) func()
	ClientConnected    func(func(types.Client)) func()
	ClientUpdated      func(func(types.Client)) func()
	ClientDisconnected func(func(types.Client)) func()
	Apps               func(func([]types.App)) func()
	AppData            func(func(registry.AppData)) func()
}

// Follow publishes every event from src and returns a function that
// stops following. Nil sources are skipped.
func (h *Hub) Follow(src Sources) (stop func()) {
	var unsubs []func()
	add := func(unsub func()) { unsubs = append(unsubs, unsub) }

	if src.Progress != nil {
		add(src.Progress(func(ev types.ProgressEvent) {
			h.Publish(Frame{Type: "progress", Data: ev})
		}))
	}
	client := func(event string) func(types.Client) {
		return func(c types.Client) { h.Publish(Frame{Type: "client", Event: event, Data: c}) }
	}
	if src.ClientConnected != nil {
		add(src.ClientConnected(client("connected")))
	}
	if src.ClientUpdated != nil {
		add(src.ClientUpdated(client("updated")))
	}
	if src.ClientDisconnected != nil {
		add(src.ClientDisconnected(client("disconnected")))
	}
	if src.Apps != nil {
		add(src.Apps(func(apps []types.App) {
			h.Publish(Frame{Type: "apps", Data: apps})
		}))
	}
	if src.AppData != nil {
		add(src.AppData(func(d registry.AppData) {
			h.Publish(Frame{Type: "app:data", Data: d})
		}))
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
