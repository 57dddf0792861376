package platform

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/identity"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/progress"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

type entry struct {
	platform Platform
	unsubs   []func()
}

// Registry routes between platforms and the identity engine.
type Registry struct {
	mu        sync.RWMutex
	platforms map[types.PlatformID]*entry // Protected by mu
	order     []types.PlatformID          // Protected by mu

	engine  *identity.Engine
	bus     *progress.Bus
	logger  *zap.Logger
	metrics *monitoring.Metrics

	data   event.Emitter[Inbound]
	errors event.Emitter[error]
}

// NewRegistry creates an empty registry.
func NewRegistry(engine *identity.Engine, bus *progress.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		platforms: make(map[types.PlatformID]*entry),
		engine:    engine,
		bus:       bus,
		logger:    logger,
	}
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// Register adds p. Registering an id twice is a programming error and
// returns ErrDuplicatePlatform.
func (r *Registry) Register(p Platform) error {
	pid := p.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.platforms[pid]; exists {
		return fmt.Errorf("platform %s: %w", pid, errors.ErrDuplicatePlatform)
	}

	ev := p.Events()
	e := &entry{platform: p}
	e.unsubs = []func(){
		ev.ClientConnected.Subscribe(func(obs types.Observation) { r.observe(pid, obs) }),
		ev.ClientUpdated.Subscribe(func(obs types.Observation) { r.observe(pid, obs) }),
		ev.ClientDisconnected.Subscribe(func(localID string) { r.disconnect(pid, localID) }),
		ev.ClientList.Subscribe(func(list []types.Observation) { r.reconcile(pid, list) }),
		ev.DataReceived.Subscribe(func(in Inbound) { r.receive(pid, in) }),
		ev.Error.Subscribe(func(err error) {
			r.logger.Warn("Platform error", zap.String("platform", string(pid)), zap.Error(err))
			r.errors.Emit(fmt.Errorf("platform %s: %w", pid, err))
		}),
		ev.StatusChanged.Subscribe(func(s Status) {
			r.logger.Info("Platform status", zap.String("platform", string(pid)), zap.Bool("running", s.Running), zap.String("message", s.Message))
			r.metrics.SetPlatformsRunning(r.runningCount())
		}),
		ev.ServerStarted.Subscribe(func(addr string) {
			r.logger.Info("Platform listening", zap.String("platform", string(pid)), zap.String("address", addr))
		}),
	}
	r.platforms[pid] = e
	r.order = append(r.order, pid)
	r.logger.Info("Platform registered", zap.String("platform", string(pid)), zap.String("name", p.Name()))
	return nil
}

// Unregister stops and removes a platform and forgets its identifiers.
func (r *Registry) Unregister(ctx context.Context, pid types.PlatformID) error {
	r.mu.Lock()
	e, ok := r.platforms[pid]
	if ok {
		delete(r.platforms, pid)
		for i, id := range r.order {
			if id == pid {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("platform %s: %w", pid, errors.ErrNotFound)
	}

	for _, unsub := range e.unsubs {
		unsub()
	}
	var err error
	if e.platform.IsRunning() {
		err = e.platform.Stop(ctx)
	}
	r.engine.ForgetPlatform(pid)
	r.metrics.SetPlatformsRunning(r.runningCount())
	return err
}

// Get returns a registered platform.
func (r *Registry) Get(pid types.PlatformID) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.platforms[pid]
	if !ok {
		return nil, false
	}
	return e.platform, true
}

// List describes every platform in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0)
	for _, p := range r.all() {
		out = append(out, Info{
			ID:           p.ID(),
			Name:         p.Name(),
			Running:      p.IsRunning(),
			Capabilities: p.Capabilities(),
		})
	}
	return out
}

// Start starts every stopped platform concurrently. opts supplies
// per-platform options. Each platform reports on its own sub-channel of
// platform:start; the first error is returned after all have finished.
func (r *Registry) Start(ctx context.Context, opts map[types.PlatformID]Options) error {
	var targets []Platform
	for _, p := range r.all() {
		if !p.IsRunning() {
			targets = append(targets, p)
		}
	}
	err := r.fanOut(ctx, types.ChannelPlatformStart, "start", targets, func(ctx context.Context, p Platform) error {
		return p.Start(ctx, opts[p.ID()])
	})
	r.metrics.SetPlatformsRunning(r.runningCount())
	return err
}

// Stop stops every running platform and disconnects its clients.
func (r *Registry) Stop(ctx context.Context) error {
	var g errgroup.Group
	for _, p := range r.all() {
		if !p.IsRunning() {
			continue
		}
		g.Go(func() error {
			err := p.Stop(ctx)
			r.engine.DisconnectPlatform(p.ID())
			if err != nil {
				return fmt.Errorf("stop %s: %w", p.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	r.metrics.SetPlatformsRunning(r.runningCount())
	return err
}

// RefreshClients re-reads the device list of every running platform and
// reconciles it against the engine.
func (r *Registry) RefreshClients(ctx context.Context) bool {
	var targets []Platform
	for _, p := range r.all() {
		if p.IsRunning() {
			targets = append(targets, p)
		}
	}
	err := r.fanOut(ctx, types.ChannelPlatformRefresh, "refresh", targets, func(ctx context.Context, p Platform) error {
		list, err := p.FetchClients(ctx)
		if err != nil {
			return err
		}
		r.reconcile(p.ID(), list)
		return nil
	})
	return err == nil
}

// SendData routes data to the client's primary provider, or to the best
// active provider having every required capability. It returns false if
// no provider can take it; callers may retry.
func (r *Registry) SendData(ctx context.Context, clientID string, data types.DeviceData, required ...types.Capability) bool {
	ident, err := r.engine.ResolveProvider(clientID, required...)
	if err != nil {
		r.logger.Warn("No route to client", zap.String("client", clientID), zap.Error(err))
		r.metrics.RecordSend("none", false)
		return false
	}

	p, ok := r.Get(ident.ProviderID)
	if !ok || !p.IsRunning() {
		r.logger.Warn("Provider unavailable", zap.String("client", clientID), zap.String("platform", string(ident.ProviderID)))
		r.metrics.RecordSend(string(ident.ProviderID), false)
		return false
	}

	data.ClientID = clientID
	sent := p.SendData(ctx, ident.ID, data)
	r.metrics.RecordSend(string(ident.ProviderID), sent)
	if !sent {
		r.logger.Warn("Send rejected", zap.String("client", clientID), zap.String("platform", string(ident.ProviderID)))
	}
	return sent
}

// Broadcast sends data through every running platform.
func (r *Registry) Broadcast(ctx context.Context, data types.DeviceData) error {
	var g errgroup.Group
	for _, p := range r.all() {
		if !p.IsRunning() {
			continue
		}
		g.Go(func() error {
			if err := p.BroadcastData(ctx, data); err != nil {
				return fmt.Errorf("broadcast via %s: %w", p.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// UpdateClient patches the client record and forwards the patch to the
// platform holding its primary connection.
func (r *Registry) UpdateClient(clientID string, patch types.ClientPatch) bool {
	c, ok := r.engine.Update(clientID, patch)
	if !ok {
		r.logger.Warn("Update for unknown client", zap.String("client", clientID))
		return false
	}
	if primary, ok := c.Primary(); ok {
		if p, ok := r.Get(primary.ProviderID); ok {
			p.UpdateClient(primary.ID, patch, true)
		}
	}
	return true
}

// Clients returns every known client.
func (r *Registry) Clients() []types.Client {
	return r.engine.List()
}

// OnClientConnected republishes the engine's connected events.
func (r *Registry) OnClientConnected(fn func(types.Client)) func() {
	return r.engine.OnConnected(fn)
}

// OnClientUpdated republishes the engine's updated events.
func (r *Registry) OnClientUpdated(fn func(types.Client)) func() {
	return r.engine.OnUpdated(fn)
}

// OnClientDisconnected republishes the engine's disconnected events.
func (r *Registry) OnClientDisconnected(fn func(types.Client)) func() {
	return r.engine.OnDisconnected(fn)
}

// OnData receives inbound device data addressed by canonical client id.
func (r *Registry) OnData(fn func(Inbound)) func() {
	return r.data.Subscribe(fn)
}

// OnError receives platform errors.
func (r *Registry) OnError(fn func(error)) func() {
	return r.errors.Subscribe(fn)
}

func (r *Registry) observe(pid types.PlatformID, obs types.Observation) {
	obs.PlatformID = pid
	r.engine.Connect(obs)
}

func (r *Registry) disconnect(pid types.PlatformID, localID string) {
	ev, ok := r.engine.Disconnect(pid, localID)
	if !ok || ev.Kind != identity.EventUpdated || !ev.PrimaryChanged() {
		return
	}

	primary, ok := ev.Client.Primary()
	if !ok {
		return
	}
	p, ok := r.Get(primary.ProviderID)
	if !ok {
		return
	}
	if obs, ok := p.RefreshClient(context.Background(), primary.ID, false); ok {
		r.observe(primary.ProviderID, obs)
	}
}

// reconcile treats list as the platform's complete device set.
func (r *Registry) reconcile(pid types.PlatformID, list []types.Observation) {
	present := make(map[string]bool, len(list))
	for _, obs := range list {
		present[obs.LocalID] = true
		r.observe(pid, obs)
	}
	for _, localID := range r.engine.ForPlatform(pid) {
		if !present[localID] {
			r.disconnect(pid, localID)
		}
	}
}

func (r *Registry) receive(pid types.PlatformID, in Inbound) {
	in.Platform = pid
	if cid, ok := r.engine.Canonical(pid, in.LocalID); ok {
		in.ClientID = cid
	} else {
		in.ClientID = in.LocalID
	}
	in.Data.ClientID = in.ClientID
	r.data.Emit(in)
}

// fanOut runs fn on every target concurrently under a progress operation
// with an equally weighted sub-channel per platform.
func (r *Registry) fanOut(ctx context.Context, channel types.ProgressChannel, op string, targets []Platform, fn func(context.Context, Platform) error) error {
	subs := make([]progress.SubOperation, len(targets))
	for i, p := range targets {
		subs[i] = progress.SubOperation{Channel: types.PlatformChannel(channel, p.ID()), Weight: 1}
	}
	r.bus.StartOperation(channel, op, fmt.Sprintf("%s %d platforms", op, len(targets)), subs...)

	var g errgroup.Group
	for _, p := range targets {
		sub := types.PlatformChannel(channel, p.ID())
		g.Go(func() error {
			r.bus.Start(sub, op, fmt.Sprintf("%s %s", op, p.Name()))
			if err := fn(ctx, p); err != nil {
				r.bus.Error(sub, err, fmt.Sprintf("%s %s failed", op, p.Name()))
				return fmt.Errorf("%s %s: %w", op, p.ID(), err)
			}
			r.bus.Complete(sub, fmt.Sprintf("%s %s done", op, p.Name()))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.bus.Error(channel, err, op+" failed")
		return err
	}
	r.bus.Complete(channel, op+" complete")
	return nil
}

func (r *Registry) all() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.order))
	for _, pid := range r.order {
		out = append(out, r.platforms[pid].platform)
	}
	return out
}

func (r *Registry) runningCount() int {
	n := 0
	for _, p := range r.all() {
		if p.IsRunning() {
			n++
		}
	}
	return n
}
