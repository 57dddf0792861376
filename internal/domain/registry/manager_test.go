package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/store"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// fakeSupervisor runs no processes. Spawned apps come online immediately.
type fakeSupervisor struct {
	mu        sync.Mutex
	running   map[string]bool
	posted    []string
	spawnFail map[string]bool
	lifecycle event.Emitter[supervisor.Lifecycle]
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{running: map[string]bool{}, spawnFail: map[string]bool{}}
}

func (f *fakeSupervisor) Spawn(ctx context.Context, app, entry, runtime string) bool {
	f.mu.Lock()
	if f.running[app] || f.spawnFail[app] {
		f.mu.Unlock()
		return false
	}
	f.running[app] = true
	f.mu.Unlock()
	f.lifecycle.Emit(supervisor.Lifecycle{App: app, Kind: supervisor.LifecycleOnline})
	return true
}

func (f *fakeSupervisor) PostMessage(app string, msg protocol.HostMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, app+":"+string(msg.Type))
}

func (f *fakeSupervisor) Terminate(app string) bool {
	f.mu.Lock()
	if !f.running[app] {
		f.mu.Unlock()
		return false
	}
	delete(f.running, app)
	f.mu.Unlock()
	f.lifecycle.Emit(supervisor.Lifecycle{App: app, Kind: supervisor.LifecycleStopped, Terminal: true})
	return true
}

func (f *fakeSupervisor) IsRunning(app string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[app]
}

func (f *fakeSupervisor) OnLifecycle(fn func(supervisor.Lifecycle)) func() {
	return f.lifecycle.Subscribe(fn)
}

func (f *fakeSupervisor) Posted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

type fixture struct {
	mgr   *Manager
	sup   *fakeSupervisor
	store *store.MemoryStore
	clock *clock.FakeClock
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, opts Options, apps ...types.App) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	sup := newFakeSupervisor()
	st := store.NewMemoryStore(apps...)
	clk := clock.Fake(time.Unix(1700000000, 0))
	mgr := NewManagerWithClock(sup, st, opts, zap.New(core), clk)
	require.NoError(t, mgr.Load(context.Background()))
	t.Cleanup(mgr.Close)
	return &fixture{mgr: mgr, sup: sup, store: st, clock: clk, logs: logs}
}

func quickOptions() Options {
	return Options{PersistDebounce: 500 * time.Millisecond, ServerVersion: "0.11.0"}
}

func app(name string, requires ...string) types.App {
	return types.App{Name: name, Manifest: &types.Manifest{ID: name, Version: "1.0.0", Requires: requires}}
}

func TestLoadClearsRunningFlags(t *testing.T) {
	persisted := app("weather")
	persisted.Enabled = true
	persisted.Running = true
	f := newFixture(t, quickOptions(), persisted)

	got, ok := f.mgr.Get("weather")
	require.True(t, ok)
	assert.True(t, got.Enabled)
	assert.False(t, got.Running)
}

func TestUnknownAppFailsFast(t *testing.T) {
	f := newFixture(t, quickOptions())
	ctx := context.Background()

	assert.False(t, f.mgr.Enable("ghost"))
	assert.False(t, f.mgr.Disable(ctx, "ghost"))
	assert.False(t, f.mgr.Stop("ghost"))
	assert.False(t, f.mgr.Start(ctx, "ghost"))
	assert.False(t, f.mgr.Purge(ctx, "ghost"))
	assert.False(t, f.mgr.Move("ghost", 0))

	assert.Empty(t, f.sup.Posted())
	assert.Equal(t, 6, f.logs.FilterMessage("App not found").Len())
}

func TestStartEnablesAndSpawns(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"))

	require.True(t, f.mgr.Start(context.Background(), "weather"))

	got, _ := f.mgr.Get("weather")
	assert.True(t, got.Enabled)
	assert.True(t, got.Running)
	require.NotNil(t, got.TimeStarted)
	assert.Equal(t, f.clock.Now(), *got.TimeStarted)
	assert.Equal(t, []string{"weather:start"}, f.sup.Posted())
}

func TestStartRefusesUnmetDependencies(t *testing.T) {
	f := newFixture(t, quickOptions(), app("foo", "bar"), app("bar"))

	assert.False(t, f.mgr.Start(context.Background(), "foo"))

	foo, _ := f.mgr.Get("foo")
	assert.False(t, foo.Running)
	assert.False(t, f.sup.IsRunning("foo"))

	refusals := f.logs.FilterMessage("Refusing to start app with unmet dependencies").All()
	require.Len(t, refusals, 1)
	assert.Equal(t, []any{"bar"}, refusals[0].ContextMap()["missing"])

	require.True(t, f.mgr.Start(context.Background(), "bar"))
	assert.True(t, f.mgr.Start(context.Background(), "foo"))
	foo, _ = f.mgr.Get("foo")
	assert.True(t, foo.Running)
}

func TestStartChecksServerVersion(t *testing.T) {
	picky := app("picky")
	picky.Manifest.RequiredVersions = map[string]string{"server": ">=0.12.0"}
	ok := app("ok")
	ok.Manifest.RequiredVersions = map[string]string{"server": ">=0.10.0 <0.12.0"}
	f := newFixture(t, quickOptions(), picky, ok)

	assert.False(t, f.mgr.Start(context.Background(), "picky"))
	assert.True(t, f.mgr.Start(context.Background(), "ok"))
}

func TestStartSpawnFailure(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"))
	f.sup.spawnFail["weather"] = true

	assert.False(t, f.mgr.Start(context.Background(), "weather"))
	assert.Empty(t, f.sup.Posted())
}

func TestRunningRequiresEnabled(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"))

	f.sup.lifecycle.Emit(supervisor.Lifecycle{App: "weather", Kind: supervisor.LifecycleStarted})

	got, _ := f.mgr.Get("weather")
	assert.False(t, got.Running)
}

func TestTerminalLifecycleClearsRunning(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"))
	require.True(t, f.mgr.Start(context.Background(), "weather"))

	f.sup.lifecycle.Emit(supervisor.Lifecycle{App: "weather", Kind: supervisor.LifecycleError, Err: fmt.Errorf("transient")})
	got, _ := f.mgr.Get("weather")
	assert.True(t, got.Running, "non-terminal errors leave the app running")

	f.sup.lifecycle.Emit(supervisor.Lifecycle{App: "weather", Kind: supervisor.LifecycleError, Terminal: true, Code: 1})
	got, _ = f.mgr.Get("weather")
	assert.False(t, got.Running)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.TimeStarted)
}

func TestDisableWaitsGraceThenTerminates(t *testing.T) {
	opts := quickOptions()
	opts.DisableGrace = 2 * time.Second
	f := newFixture(t, opts, app("weather"))
	require.True(t, f.mgr.Start(context.Background(), "weather"))
	f.mgr.Flush()

	done := make(chan bool)
	go func() { done <- f.mgr.Disable(context.Background(), "weather") }()

	// One waiter for the grace period, one for the debounced write.
	f.clock.WaitForWaiters(2)
	got, _ := f.mgr.Get("weather")
	assert.False(t, got.Enabled)
	assert.False(t, got.Running)
	assert.True(t, f.sup.IsRunning("weather"), "process survives until the grace period ends")

	f.clock.Advance(2 * time.Second)
	assert.True(t, <-done)
	assert.False(t, f.sup.IsRunning("weather"))
	assert.Equal(t, []string{"weather:start", "weather:stop"}, f.sup.Posted())
}

func TestDisableCancelledContextTerminatesImmediately(t *testing.T) {
	opts := quickOptions()
	opts.DisableGrace = time.Hour
	f := newFixture(t, opts, app("weather"))
	require.True(t, f.mgr.Start(context.Background(), "weather"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, f.mgr.Disable(ctx, "weather"))
	assert.False(t, f.sup.IsRunning("weather"))
}

func TestPurgeIsIdempotent(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"), app("clock"))
	require.True(t, f.mgr.Start(context.Background(), "weather"))

	assert.True(t, f.mgr.Purge(context.Background(), "weather"))
	assert.False(t, f.mgr.Purge(context.Background(), "weather"))

	_, ok := f.mgr.Get("weather")
	assert.False(t, ok)
	assert.False(t, f.sup.IsRunning("weather"))
	assert.Equal(t, []string{"weather"}, f.store.Deleted())
	assert.Equal(t, []string{"weather:start", "weather:purge", "weather:stop"}, f.sup.Posted())

	clockApp, _ := f.mgr.Get("clock")
	assert.Equal(t, 0, clockApp.Order)
}

func TestDebouncedPersistence(t *testing.T) {
	f := newFixture(t, quickOptions(), app("a"), app("b"), app("c"))

	var notified [][]types.App
	f.mgr.OnChange(func(apps []types.App) { notified = append(notified, apps) })

	f.mgr.Enable("a")
	f.clock.Advance(300 * time.Millisecond)
	f.mgr.Enable("b")
	f.clock.Advance(300 * time.Millisecond)
	f.mgr.Enable("c")

	assert.Zero(t, f.store.Saves(), "burst must not write before the window closes")

	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, f.store.Saves())
	require.Len(t, notified, 1)

	persisted, err := f.store.Load(context.Background())
	require.NoError(t, err)
	for _, a := range persisted {
		assert.True(t, a.Enabled, a.Name)
	}
}

func TestEnableIsNoOpWhenAlreadyEnabled(t *testing.T) {
	enabled := app("a")
	enabled.Enabled = true
	f := newFixture(t, quickOptions(), enabled)

	assert.True(t, f.mgr.Enable("a"))
	f.clock.Advance(time.Second)
	assert.Zero(t, f.store.Saves())
}

func TestPersistFailureStillNotifies(t *testing.T) {
	f := newFixture(t, quickOptions(), app("a"))
	f.store.FailSaves(fmt.Errorf("disk full"))

	notified := 0
	f.mgr.OnChange(func([]types.App) { notified++ })

	f.mgr.Enable("a")
	f.mgr.Flush()

	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to persist apps").Len())
}

func TestReorderAndMove(t *testing.T) {
	f := newFixture(t, quickOptions(), app("a"), app("b"), app("c"), app("d"))

	require.True(t, f.mgr.Reorder([]string{"c", "ghost", "a", "c"}))
	assert.Equal(t, []string{"c", "a", "b", "d"}, names(f.mgr.List()))

	require.True(t, f.mgr.Move("d", 1))
	assert.Equal(t, []string{"c", "d", "a", "b"}, names(f.mgr.List()))

	require.True(t, f.mgr.Move("c", 99))
	assert.Equal(t, []string{"d", "a", "b", "c"}, names(f.mgr.List()))

	for i, a := range f.mgr.List() {
		assert.Equal(t, i, a.Order)
	}

	f.mgr.Flush()
	persisted, _ := f.store.Load(context.Background())
	assert.Equal(t, []string{"d", "a", "b", "c"}, names(persisted))
}

func TestAddKeepsFlags(t *testing.T) {
	f := newFixture(t, quickOptions())

	f.mgr.Add(app("weather"))
	require.True(t, f.mgr.Start(context.Background(), "weather"))

	update := app("weather")
	update.Manifest.Version = "2.0.0"
	f.mgr.Add(update)

	got, _ := f.mgr.Get("weather")
	assert.Equal(t, "2.0.0", got.Manifest.Version)
	assert.True(t, got.Enabled)
	assert.True(t, got.Running)
}

func TestAppDataRepublished(t *testing.T) {
	f := newFixture(t, quickOptions(), app("weather"))

	var got []AppData
	f.mgr.OnData(func(d AppData) { got = append(got, d) })

	f.sup.lifecycle.Emit(supervisor.Lifecycle{
		App:  "weather",
		Kind: supervisor.LifecycleData,
		Data: &protocol.DataMessage{Type: "send", Request: "client", Payload: "sunny"},
	})

	assert.Equal(t, []AppData{{App: "weather", Type: "send", Request: "client", Payload: "sunny"}}, got)
}

func TestAutostartHonoursDependencies(t *testing.T) {
	foo := app("foo", "bar")
	foo.Enabled = true
	bar := app("bar")
	bar.Enabled = true
	idle := app("idle")
	f := newFixture(t, quickOptions(), foo, bar, idle)

	assert.Equal(t, 2, f.mgr.Autostart(context.Background()))
	assert.True(t, f.sup.IsRunning("foo"))
	assert.True(t, f.sup.IsRunning("bar"))
	assert.False(t, f.sup.IsRunning("idle"))
}

func names(apps []types.App) []string {
	out := make([]string, len(apps))
	for i, a := range apps {
		out[i] = a.Name
	}
	return out
}
