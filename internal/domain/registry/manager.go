package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/store"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Supervisor is the part of the process supervisor the registry drives.
type Supervisor interface {
	Spawn(ctx context.Context, app, entry, runtime string) bool
	PostMessage(app string, msg protocol.HostMessage)
	Terminate(app string) bool
	IsRunning(app string) bool
	OnLifecycle(fn func(supervisor.Lifecycle)) (unsubscribe func())
}

// Options tunes the registry.
type Options struct {
	DisableGrace    time.Duration
	PurgeGrace      time.Duration
	PersistDebounce time.Duration
	ServerVersion   string
}

// DefaultOptions returns the standard grace periods and debounce.
func DefaultOptions() Options {
	return Options{
		DisableGrace:    2 * time.Second,
		PurgeGrace:      time.Second,
		PersistDebounce: 500 * time.Millisecond,
	}
}

// AppData is a business event published by an app.
type AppData struct {
	App     string `json:"app"`
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Manager orchestrates installed apps
type Manager struct {
	mu      sync.RWMutex
	apps    map[string]*types.App // Protected by mu
	order   []string              // Protected by mu
	purging map[string]bool       // Protected by mu

	sup     Supervisor
	store   store.AppStore
	writes  *store.Coalescer
	clock   clock.Clock
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	changes event.Emitter[[]types.App]
	data    event.Emitter[AppData]
	unsub   func()
}

// NewManager creates a registry bound to sup and st.
func NewManager(sup Supervisor, st store.AppStore, opts Options, logger *zap.Logger) *Manager {
	return NewManagerWithClock(sup, st, opts, logger, clock.Real())
}

// NewManagerWithClock is NewManager with an explicit clock.
func NewManagerWithClock(sup Supervisor, st store.AppStore, opts Options, logger *zap.Logger, c clock.Clock) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		apps:    make(map[string]*types.App),
		purging: make(map[string]bool),
		sup:     sup,
		store:   st,
		clock:   c,
		opts:    opts,
		logger:  logger,
	}
	m.writes = store.NewCoalescer(c, opts.PersistDebounce, m.flush)
	m.unsub = sup.OnLifecycle(m.handleLifecycle)
	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// OnChange subscribes to the app list. It fires once per flushed burst.
func (m *Manager) OnChange(fn func([]types.App)) (unsubscribe func()) {
	return m.changes.Subscribe(fn)
}

// OnData subscribes to app business events.
func (m *Manager) OnData(fn func(AppData)) (unsubscribe func()) {
	return m.data.Subscribe(fn)
}

// Load replaces the in-memory list with the persisted one. Running flags
// are cleared because no process survives a restart.
func (m *Manager) Load(ctx context.Context) error {
	apps, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.apps = make(map[string]*types.App, len(apps))
	m.order = m.order[:0]
	for i := range apps {
		app := apps[i].Clone()
		app.Running = false
		app.TimeStarted = nil
		if _, dup := m.apps[app.Name]; dup {
			continue
		}
		m.apps[app.Name] = &app
		m.order = append(m.order, app.Name)
	}
	m.renumberLocked()
	n := len(m.apps)
	m.mu.Unlock()

	m.metrics.SetRegistryApps(n)
	m.logger.Info("Loaded apps", zap.Int("count", n))
	return nil
}

// Autostart starts every enabled app in order and returns how many
// started. Apps whose dependencies are not yet running are retried once
// after the first pass.
func (m *Manager) Autostart(ctx context.Context) int {
	var pending []string
	for _, app := range m.List() {
		if app.Enabled {
			pending = append(pending, app.Name)
		}
	}

	started := 0
	for pass := 0; pass < 2 && len(pending) > 0; pass++ {
		var retry []string
		for _, name := range pending {
			if m.Start(ctx, name) {
				started++
				continue
			}
			retry = append(retry, name)
		}
		if len(retry) == len(pending) {
			break
		}
		pending = retry
	}
	return started
}

// Add installs app or replaces the manifest of an installed app, keeping
// its lifecycle flags. New apps go to the end of the order.
func (m *Manager) Add(app types.App) {
	m.mu.Lock()
	if existing, ok := m.apps[app.Name]; ok {
		existing.Manifest = app.Clone().Manifest
		if app.Meta != nil {
			existing.Meta = app.Clone().Meta
		}
	} else {
		clone := app.Clone()
		clone.Running = false
		clone.TimeStarted = nil
		clone.Order = len(m.order)
		m.apps[app.Name] = &clone
		m.order = append(m.order, app.Name)
	}
	n := len(m.apps)
	m.mu.Unlock()

	m.metrics.SetRegistryApps(n)
	m.logger.Info("App added", zap.String("app", app.Name))
	m.writes.Mark(app.Name)
}

// Get returns a copy of the named app.
func (m *Manager) Get(name string) (types.App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[name]
	if !ok {
		return types.App{}, false
	}
	return app.Clone(), true
}

// List returns copies of every app in order.
func (m *Manager) List() []types.App {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

// Enable marks the app to run at the next opportunity.
func (m *Manager) Enable(name string) bool {
	changed, ok := m.update(name, func(app *types.App) bool {
		if app.Enabled {
			return false
		}
		app.Enabled = true
		return true
	})
	if !ok {
		m.notFound("enable", name)
		return false
	}
	if changed {
		m.logger.Info("App enabled", zap.String("app", name))
	}
	return true
}

// Disable asks the app to stop, clears its flags, waits the disable grace
// period and then force-terminates it.
func (m *Manager) Disable(ctx context.Context, name string) bool {
	if _, ok := m.Get(name); !ok {
		m.notFound("disable", name)
		return false
	}

	m.sup.PostMessage(name, protocol.HostMessage{Type: protocol.HostStop})
	m.update(name, func(app *types.App) bool {
		app.Enabled = false
		app.Running = false
		app.TimeStarted = nil
		return true
	})

	if m.sup.IsRunning(name) {
		m.wait(ctx, m.opts.DisableGrace)
		m.sup.Terminate(name)
	}
	m.logger.Info("App disabled", zap.String("app", name))
	return true
}

// Stop asks the app to stop. The running flag follows the app's own
// lifecycle events.
func (m *Manager) Stop(name string) bool {
	if _, ok := m.Get(name); !ok {
		m.notFound("stop", name)
		return false
	}
	m.sup.PostMessage(name, protocol.HostMessage{Type: protocol.HostStop})
	return true
}

// Start enables the app if needed, verifies its dependencies and server
// version constraint, spawns it if it has no process, and sends start.
func (m *Manager) Start(ctx context.Context, name string) bool {
	app, ok := m.Get(name)
	if !ok {
		m.notFound("start", name)
		return false
	}
	if !app.Enabled {
		m.Enable(name)
	}

	if missing := m.missingDependencies(app); len(missing) > 0 {
		m.logger.Warn("Refusing to start app with unmet dependencies",
			zap.String("app", name),
			zap.Strings("missing", missing))
		return false
	}
	if !m.serverCompatible(app) {
		return false
	}

	if !m.sup.IsRunning(name) {
		var entry, runtime string
		if app.Manifest != nil {
			entry, runtime = app.Manifest.Entry, app.Manifest.Runtime
		}
		if !m.sup.Spawn(ctx, name, entry, runtime) {
			return false
		}
	}
	m.sup.PostMessage(name, protocol.HostMessage{Type: protocol.HostStart})
	return true
}

// Purge asks the app to clean up, waits, disables it, removes it and
// deletes its data. Purging an absent app, or one already being purged,
// returns false.
func (m *Manager) Purge(ctx context.Context, name string) bool {
	m.mu.Lock()
	_, ok := m.apps[name]
	if !ok || m.purging[name] {
		m.mu.Unlock()
		m.notFound("purge", name)
		return false
	}
	m.purging[name] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.purging, name)
		m.mu.Unlock()
	}()

	if m.sup.IsRunning(name) {
		m.sup.PostMessage(name, protocol.HostMessage{Type: protocol.HostPurge})
		m.wait(ctx, m.opts.PurgeGrace)
	}
	m.Disable(ctx, name)

	m.mu.Lock()
	delete(m.apps, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	m.renumberLocked()
	n := len(m.apps)
	m.mu.Unlock()

	m.metrics.SetRegistryApps(n)
	m.writes.Mark(name)

	if err := m.store.DeleteAppData(ctx, name); err != nil {
		m.logger.Warn("Failed to delete app data", zap.String("app", name), zap.Error(err))
	}
	m.logger.Info("App purged", zap.String("app", name))
	return true
}

// Reorder moves the named apps to the front in the given order. Unknown
// names are ignored and unlisted apps keep their relative order.
func (m *Manager) Reorder(names []string) bool {
	m.mu.Lock()
	seen := make(map[string]bool, len(names))
	order := make([]string, 0, len(m.order))
	for _, name := range names {
		if _, ok := m.apps[name]; ok && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	for _, name := range m.order {
		if !seen[name] {
			order = append(order, name)
		}
	}
	m.order = order
	m.renumberLocked()
	m.mu.Unlock()

	m.writes.Mark("order")
	return true
}

// Move places the named app at index, clamped to the list bounds.
func (m *Manager) Move(name string, index int) bool {
	m.mu.Lock()
	from := -1
	for i, n := range m.order {
		if n == name {
			from = i
			break
		}
	}
	if from < 0 {
		m.mu.Unlock()
		m.notFound("move", name)
		return false
	}

	order := append(m.order[:from:from], m.order[from+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(order) {
		index = len(order)
	}
	order = append(order[:index], append([]string{name}, order[index:]...)...)
	m.order = order
	m.renumberLocked()
	m.mu.Unlock()

	m.writes.Mark(name)
	return true
}

// Flush writes pending changes now.
func (m *Manager) Flush() {
	m.writes.Flush()
}

// Close detaches from the supervisor and flushes pending changes.
func (m *Manager) Close() {
	m.unsub()
	m.writes.Flush()
}

func (m *Manager) handleLifecycle(ev supervisor.Lifecycle) {
	switch {
	case ev.Kind == supervisor.LifecycleData && ev.Data != nil:
		m.data.Emit(AppData{App: ev.App, Type: ev.Data.Type, Request: ev.Data.Request, Payload: ev.Data.Payload})

	case ev.Kind == supervisor.LifecycleStarted || ev.Kind == supervisor.LifecycleOnline:
		now := m.clock.Now()
		m.update(ev.App, func(app *types.App) bool {
			if !app.Enabled || app.Running {
				return false
			}
			app.Running = true
			app.TimeStarted = &now
			return true
		})

	case ev.Terminal:
		m.update(ev.App, func(app *types.App) bool {
			if !app.Running {
				return false
			}
			app.Running = false
			app.TimeStarted = nil
			return true
		})
	}
}

// update applies fn to the named app and schedules a write if fn reports
// a change. ok is false if the app is unknown.
func (m *Manager) update(name string, fn func(*types.App) bool) (changed, ok bool) {
	m.mu.Lock()
	app, ok := m.apps[name]
	if ok {
		changed = fn(app)
	}
	m.mu.Unlock()

	if changed {
		m.writes.Mark(name)
	}
	return changed, ok
}

func (m *Manager) missingDependencies(app types.App) []string {
	var missing []string
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dep := range app.Requires() {
		if other, ok := m.apps[dep]; !ok || !other.Running {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (m *Manager) serverCompatible(app types.App) bool {
	if app.Manifest == nil || m.opts.ServerVersion == "" {
		return true
	}
	constraint := strings.TrimSpace(app.Manifest.RequiredVersions["server"])
	if constraint == "" {
		return true
	}
	ok, err := protocol.Satisfies(m.opts.ServerVersion, constraint)
	if err != nil {
		m.logger.Warn("Invalid server version constraint",
			zap.String("app", app.Name), zap.String("constraint", constraint), zap.Error(err))
		return false
	}
	if !ok {
		m.logger.Warn("App requires a different server version",
			zap.String("app", app.Name),
			zap.String("constraint", constraint),
			zap.String("server", m.opts.ServerVersion))
	}
	return ok
}

func (m *Manager) flush(keys []string) {
	apps := m.List()
	err := m.store.Save(context.Background(), apps)
	m.metrics.RecordRegistryWrite(err == nil)
	if err != nil {
		m.logger.Error("Failed to persist apps", zap.Strings("changed", keys), zap.Error(err))
	} else {
		m.logger.Debug("Persisted apps", zap.Strings("changed", keys), zap.Int("count", len(apps)))
	}
	m.changes.Emit(apps)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-m.clock.After(d):
	case <-ctx.Done():
	}
}

func (m *Manager) notFound(op, name string) {
	m.logger.Warn("App not found", zap.String("op", op), zap.String("app", name))
}

func (m *Manager) listLocked() []types.App {
	out := make([]types.App, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.apps[name].Clone())
	}
	return out
}

func (m *Manager) renumberLocked() {
	for i, name := range m.order {
		m.apps[name].Order = i
	}
}
