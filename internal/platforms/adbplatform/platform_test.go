package adbplatform

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

const sample = `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 device:emu64x transport_id:1
R58M123ABC             unauthorized usb:1-1 transport_id:2

`

type fakeRunner struct {
	mu      sync.Mutex
	devices string
	err     error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))
	if f.err != nil {
		return nil, f.err
	}
	if len(args) > 0 && args[0] == "devices" {
		return []byte(f.devices), nil
	}
	return nil, nil
}

func (f *fakeRunner) set(devices string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices, f.err = devices, err
}

func TestParseDevices(t *testing.T) {
	devices := ParseDevices([]byte(sample))

	require.Len(t, devices, 2)
	assert.Equal(t, "emulator-5554", devices[0].Serial)
	assert.True(t, devices[0].Ready())
	assert.Equal(t, "sdk_gphone64_x86_64", devices[0].Attributes["model"])
	assert.Equal(t, "R58M123ABC", devices[1].Serial)
	assert.False(t, devices[1].Ready())
	assert.Equal(t, "1-1", devices[1].Attributes["usb"])

	assert.Empty(t, ParseDevices([]byte("List of devices attached\n\n")))
}

func TestObservation(t *testing.T) {
	obs := ParseDevices([]byte(sample))[1].observation()

	assert.Equal(t, types.PlatformADB, obs.PlatformID)
	assert.Equal(t, "R58M123ABC", obs.LocalID)
	assert.Equal(t, "R58M123ABC", obs.Serial)
	assert.True(t, obs.Established, "unauthorized device has only a link")
	assert.Equal(t, "unauthorized", obs.Meta["state"])
}

type recorder struct {
	connected    chan types.Observation
	updated      chan types.Observation
	disconnected chan string
}

func record(p *Platform) *recorder {
	r := &recorder{
		connected:    make(chan types.Observation, 8),
		updated:      make(chan types.Observation, 8),
		disconnected: make(chan string, 8),
	}
	p.Events().ClientConnected.Subscribe(func(o types.Observation) { r.connected <- o })
	p.Events().ClientUpdated.Subscribe(func(o types.Observation) { r.updated <- o })
	p.Events().ClientDisconnected.Subscribe(func(s string) { r.disconnected <- s })
	return r
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestPollingReportsChanges(t *testing.T) {
	runner := &fakeRunner{devices: "List of devices attached\nSER1 unauthorized usb:1\n"}
	fc := clock.Fake(time.Unix(0, 0))
	p := New(runner, 5*time.Second, nil).WithClock(fc)
	rec := record(p)

	require.NoError(t, p.Start(context.Background(), platform.Options{}))
	defer p.Stop(context.Background())

	obs := recv(t, rec.connected)
	assert.Equal(t, "SER1", obs.LocalID)
	assert.True(t, obs.Established)

	runner.set("List of devices attached\nSER1 device usb:1\nSER2 device usb:2\n", nil)
	fc.WaitForWaiters(1)
	fc.Advance(5 * time.Second)

	assert.Equal(t, "SER2", recv(t, rec.connected).LocalID)
	up := recv(t, rec.updated)
	assert.Equal(t, "SER1", up.LocalID)
	assert.False(t, up.Established)

	runner.set("List of devices attached\nSER2 device usb:2\n", nil)
	fc.WaitForWaiters(1)
	fc.Advance(5 * time.Second)

	assert.Equal(t, "SER1", recv(t, rec.disconnected))
}

func TestStartFailsWithoutBridge(t *testing.T) {
	runner := &fakeRunner{err: errors.New("executable file not found")}
	p := New(runner, time.Second, nil)

	err := p.Start(context.Background(), platform.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device bridge unavailable")
	assert.False(t, p.IsRunning())
}

func TestStopDisconnectsKnownDevices(t *testing.T) {
	runner := &fakeRunner{devices: sample}
	fc := clock.Fake(time.Unix(0, 0))
	p := New(runner, time.Second, nil).WithClock(fc)
	rec := record(p)
	require.NoError(t, p.Start(context.Background(), platform.Options{}))
	recv(t, rec.connected)
	recv(t, rec.connected)

	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, "R58M123ABC", recv(t, rec.disconnected))
	assert.Equal(t, "emulator-5554", recv(t, rec.disconnected))
	assert.False(t, p.IsRunning())
}

func TestSendDataDeclines(t *testing.T) {
	p := New(&fakeRunner{}, time.Second, nil)
	assert.False(t, p.SendData(context.Background(), "SER1", types.DeviceData{App: "x"}))
	assert.NoError(t, p.BroadcastData(context.Background(), types.DeviceData{}))
}

func TestFetchClientsTripsBreaker(t *testing.T) {
	runner := &fakeRunner{err: errors.New("adb crashed")}
	p := New(runner, time.Second, nil).WithClock(clock.Fake(time.Unix(0, 0)))

	for i := 0; i < 3; i++ {
		_, err := p.FetchClients(context.Background())
		require.Error(t, err)
	}
	_, err := p.FetchClients(context.Background())

	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, runner.calls, 3)
}

func TestUpdateClientOverridesName(t *testing.T) {
	runner := &fakeRunner{devices: sample}
	fc := clock.Fake(time.Unix(0, 0))
	p := New(runner, time.Second, nil).WithClock(fc)
	rec := record(p)
	require.NoError(t, p.Start(context.Background(), platform.Options{}))
	defer p.Stop(context.Background())
	recv(t, rec.connected)
	recv(t, rec.connected)

	name := "Dash"
	p.UpdateClient("emulator-5554", types.ClientPatch{Name: &name}, true)
	assert.Equal(t, "Dash", recv(t, rec.updated).Name)

	obs, ok := p.RefreshClient(context.Background(), "emulator-5554", false)
	require.True(t, ok)
	assert.Equal(t, "Dash", obs.Name)

	list, err := p.FetchClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dash", list[0].Name)
}

func TestRefreshClientsEmitsList(t *testing.T) {
	runner := &fakeRunner{devices: sample}
	p := New(runner, time.Hour, nil).WithClock(clock.Fake(time.Unix(0, 0)))
	lists := make(chan []types.Observation, 1)
	p.Events().ClientList.Subscribe(func(l []types.Observation) { lists <- l })

	assert.False(t, p.RefreshClients(context.Background()))

	require.NoError(t, p.Start(context.Background(), platform.Options{}))
	defer p.Stop(context.Background())
	require.True(t, p.RefreshClients(context.Background()))

	list := recv(t, lists)
	require.Len(t, list, 2)
	assert.Equal(t, "R58M123ABC", list[0].LocalID)
}
