package platform

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/identity"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/progress"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

type sent struct {
	localID string
	data    types.DeviceData
}

type fakePlatform struct {
	id       types.PlatformID
	caps     []types.Capability
	events   Events
	startErr error
	accept   bool

	mu        sync.Mutex
	running   bool
	sent      []sent
	devices   []types.Observation
	refreshed []string
	patches   []string
}

func newFakePlatform(id types.PlatformID, caps ...types.Capability) *fakePlatform {
	return &fakePlatform{id: id, caps: caps, accept: true}
}

func (f *fakePlatform) ID() types.PlatformID             { return f.id }
func (f *fakePlatform) Name() string                     { return "fake " + string(f.id) }
func (f *fakePlatform) Capabilities() []types.Capability { return f.caps }
func (f *fakePlatform) Events() *Events                  { return &f.events }

func (f *fakePlatform) Start(ctx context.Context, opts Options) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakePlatform) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakePlatform) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePlatform) SendData(ctx context.Context, localID string, data types.DeviceData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{localID: localID, data: data})
	return f.accept
}

func (f *fakePlatform) BroadcastData(ctx context.Context, data types.DeviceData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{localID: "*", data: data})
	return nil
}

func (f *fakePlatform) FetchClients(ctx context.Context) ([]types.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Observation(nil), f.devices...), nil
}

func (f *fakePlatform) RefreshClients(ctx context.Context) bool {
	list, _ := f.FetchClients(ctx)
	f.events.ClientList.Emit(list)
	return true
}

func (f *fakePlatform) RefreshClient(ctx context.Context, localID string, force bool) (types.Observation, bool) {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, localID)
	f.mu.Unlock()
	return types.Observation{LocalID: localID, Capabilities: f.caps, Meta: map[string]any{"refreshed": true}}, true
}

func (f *fakePlatform) UpdateClient(localID string, patch types.ClientPatch, propagate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, localID)
}

func (f *fakePlatform) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newRegistry(t *testing.T, platforms ...Platform) (*Registry, *progress.Bus) {
	t.Helper()
	bus := progress.NewBus(nil)
	r := NewRegistry(identity.NewEngine(nil, nil), bus, nil)
	for _, p := range platforms {
		require.NoError(t, r.Register(p))
	}
	return r, bus
}

func device(local, serial string, caps ...types.Capability) types.Observation {
	return types.Observation{LocalID: local, Serial: serial, Capabilities: caps}
}

func TestRegisterDuplicate(t *testing.T) {
	r, _ := newRegistry(t, newFakePlatform(types.PlatformADB))

	err := r.Register(newFakePlatform(types.PlatformADB))
	assert.ErrorIs(t, err, errors.ErrDuplicatePlatform)
	assert.Len(t, r.List(), 1)
}

func TestStartReportsProgress(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, bus := newRegistry(t, adb, ws)

	require.NoError(t, r.Start(context.Background(), nil))

	assert.True(t, adb.IsRunning())
	assert.True(t, ws.IsRunning())
	ev, ok := bus.Get(types.ChannelPlatformStart)
	require.True(t, ok)
	assert.Equal(t, types.StatusComplete, ev.Status)
	assert.Equal(t, 100.0, ev.Progress)

	sub, ok := bus.Get(types.PlatformChannel(types.ChannelPlatformStart, types.PlatformADB))
	require.True(t, ok)
	assert.Equal(t, types.StatusComplete, sub.Status)
}

func TestStartFailureStillStartsOthers(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	adb.startErr = fmt.Errorf("adb not installed")
	ws := newFakePlatform(types.PlatformWebSocket)
	r, bus := newRegistry(t, adb, ws)

	err := r.Start(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adb not installed")
	assert.True(t, ws.IsRunning())

	ev, _ := bus.Get(types.ChannelPlatformStart)
	assert.Equal(t, types.StatusError, ev.Status)
}

func TestInboundEventsReachEngine(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, adb, ws)

	var connected, disconnected []string
	r.OnClientConnected(func(c types.Client) { connected = append(connected, c.ClientID) })
	r.OnClientDisconnected(func(c types.Client) { disconnected = append(disconnected, c.ClientID) })

	adb.events.ClientConnected.Emit(device("X", "SN1", types.CapabilityPing))
	ws.events.ClientConnected.Emit(device("Y", "SN1", types.CapabilityCommunicate))

	clients := r.Clients()
	require.Len(t, clients, 1)
	assert.Len(t, clients[0].Identifiers, 2)
	assert.Equal(t, []string{"X"}, connected)

	ws.events.ClientDisconnected.Emit("Y")
	adb.events.ClientDisconnected.Emit("X")
	assert.Equal(t, []string{"X"}, disconnected)
}

func TestFailoverRefreshesNewPrimary(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB, types.CapabilityPing)
	ws := newFakePlatform(types.PlatformWebSocket, types.CapabilityCommunicate)
	r, _ := newRegistry(t, adb, ws)

	adb.events.ClientConnected.Emit(device("X", "SN1", types.CapabilityPing))
	ws.events.ClientConnected.Emit(device("Y", "SN1", types.CapabilityCommunicate))

	ws.events.ClientDisconnected.Emit("Y")

	assert.Equal(t, []string{"X"}, adb.refreshed)
	c := r.Clients()[0]
	assert.Equal(t, types.PlatformADB, c.PrimaryProviderID)
	assert.Equal(t, true, c.Meta["refreshed"])
}

func TestSendDataUsesPrimary(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, adb, ws)
	require.NoError(t, r.Start(context.Background(), nil))

	adb.events.ClientConnected.Emit(device("X", "SN1", types.CapabilityPing))
	ws.events.ClientConnected.Emit(device("Y", "SN1", types.CapabilityCommunicate))

	data := types.DeviceData{App: "weather", Type: "forecast", Payload: "sunny"}
	require.True(t, r.SendData(context.Background(), "X", data))

	out := ws.Sent()
	require.Len(t, out, 1)
	assert.Equal(t, "Y", out[0].localID)
	assert.Equal(t, "X", out[0].data.ClientID)
	assert.Empty(t, adb.Sent())
}

func TestSendDataWithRequiredCapability(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, adb, ws)
	require.NoError(t, r.Start(context.Background(), nil))

	adb.events.ClientConnected.Emit(device("X", "SN1", types.CapabilityPing, types.CapabilityConfigure, types.Capability(10)))
	ws.events.ClientConnected.Emit(device("Y", "SN1", types.CapabilityCommunicate))

	require.True(t, r.SendData(context.Background(), "X", types.DeviceData{Type: "t"}, types.CapabilityCommunicate))
	assert.Len(t, ws.Sent(), 1)

	ws.events.ClientDisconnected.Emit("Y")
	assert.False(t, r.SendData(context.Background(), "X", types.DeviceData{Type: "t"}, types.CapabilityCommunicate))
}

func TestSendDataFailures(t *testing.T) {
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, ws)

	assert.False(t, r.SendData(context.Background(), "ghost", types.DeviceData{}))

	ws.events.ClientConnected.Emit(device("Y", "", types.CapabilityCommunicate))
	assert.False(t, r.SendData(context.Background(), "Y", types.DeviceData{}), "platform not running")

	require.NoError(t, r.Start(context.Background(), nil))
	ws.accept = false
	assert.False(t, r.SendData(context.Background(), "Y", types.DeviceData{}))
}

func TestClientListReconciles(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	r, _ := newRegistry(t, adb)

	adb.events.ClientList.Emit([]types.Observation{device("A", ""), device("B", "")})
	assert.Len(t, r.Clients(), 2)

	adb.events.ClientList.Emit([]types.Observation{device("B", "")})
	a, _ := r.engine.Get("A")
	b, _ := r.engine.Get("B")
	assert.Equal(t, types.StateDisconnected, a.ConnectionState)
	assert.Equal(t, types.StateConnected, b.ConnectionState)
}

func TestRefreshClients(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	r, bus := newRegistry(t, adb)
	require.NoError(t, r.Start(context.Background(), nil))
	adb.devices = []types.Observation{device("A", "")}

	require.True(t, r.RefreshClients(context.Background()))

	assert.Len(t, r.Clients(), 1)
	ev, _ := bus.Get(types.ChannelPlatformRefresh)
	assert.Equal(t, types.StatusComplete, ev.Status)
}

func TestInboundDataUsesCanonicalID(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, adb, ws)

	adb.events.ClientConnected.Emit(device("X", "SN1"))
	ws.events.ClientConnected.Emit(device("Y", "SN1"))

	var got []Inbound
	r.OnData(func(in Inbound) { got = append(got, in) })
	ws.events.DataReceived.Emit(Inbound{LocalID: "Y", Data: types.DeviceData{App: "weather", Type: "get"}})

	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].ClientID)
	assert.Equal(t, "X", got[0].Data.ClientID)
	assert.Equal(t, types.PlatformWebSocket, got[0].Platform)
}

func TestUnregisterForgetsClients(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	r, _ := newRegistry(t, adb)
	require.NoError(t, r.Start(context.Background(), nil))
	adb.events.ClientConnected.Emit(device("A", ""))

	require.NoError(t, r.Unregister(context.Background(), types.PlatformADB))

	assert.False(t, adb.IsRunning())
	assert.Empty(t, r.Clients())
	assert.Empty(t, r.List())

	// Events from the removed platform are ignored.
	adb.events.ClientConnected.Emit(device("B", ""))
	assert.Empty(t, r.Clients())

	assert.ErrorIs(t, r.Unregister(context.Background(), types.PlatformADB), errors.ErrNotFound)
}

func TestStopDisconnectsClients(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	r, _ := newRegistry(t, adb)
	require.NoError(t, r.Start(context.Background(), nil))
	adb.events.ClientConnected.Emit(device("A", ""))

	require.NoError(t, r.Stop(context.Background()))

	c, _ := r.engine.Get("A")
	assert.Equal(t, types.StateDisconnected, c.ConnectionState)
}

func TestUpdateClientPropagates(t *testing.T) {
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, ws)
	ws.events.ClientConnected.Emit(device("Y", ""))
	name := "Desk"

	require.True(t, r.UpdateClient("Y", types.ClientPatch{Name: &name}))
	assert.Equal(t, []string{"Y"}, ws.patches)
	assert.False(t, r.UpdateClient("ghost", types.ClientPatch{Name: &name}))
}

func TestBroadcast(t *testing.T) {
	adb := newFakePlatform(types.PlatformADB)
	ws := newFakePlatform(types.PlatformWebSocket)
	r, _ := newRegistry(t, adb, ws)
	require.NoError(t, ws.Start(context.Background(), Options{}))

	require.NoError(t, r.Broadcast(context.Background(), types.DeviceData{Type: "hello"}))
	assert.Len(t, ws.Sent(), 1)
	assert.Empty(t, adb.Sent())
}
