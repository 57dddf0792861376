package adbplatform

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Platform reports devices attached over the debug bridge.
type Platform struct {
	runner   Runner
	interval time.Duration
	clock    clock.Clock
	breaker  *resilience.Breaker
	logger   *zap.Logger
	events   platform.Events

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	known   map[string]types.Observation
	names   map[string]string // Name overrides set through UpdateClient
}

// New creates a stopped platform polling every interval.
func New(runner Runner, interval time.Duration, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Platform{
		runner:   runner,
		interval: interval,
		clock:    clock.Real(),
		logger:   logger,
		known:    make(map[string]types.Observation),
		names:    make(map[string]string),
	}
	p.breaker = resilience.New("adb", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			p.logger.Warn("Device bridge breaker changed state",
				zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return p
}

// WithClock replaces the polling and breaker time source.
func (p *Platform) WithClock(c clock.Clock) *Platform {
	p.clock = c
	p.breaker.WithClock(c)
	return p
}

func (p *Platform) ID() types.PlatformID     { return types.PlatformADB }
func (p *Platform) Name() string             { return "Cable" }
func (p *Platform) Events() *platform.Events { return &p.events }
func (p *Platform) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityPing, types.CapabilityConfigure}
}

// Start checks that the bridge is available and begins polling.
func (p *Platform) Start(ctx context.Context, opts platform.Options) error {
	if p.IsRunning() {
		return nil
	}
	if _, err := p.runner.Run(ctx, "start-server"); err != nil {
		return fmt.Errorf("device bridge unavailable: %w", err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.loop(pollCtx, p.done)
	p.mu.Unlock()

	p.events.StatusChanged.Emit(platform.Status{Platform: p.ID(), Running: true, Message: "polling"})
	return nil
}

// Stop ends polling and forgets the device list.
func (p *Platform) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	gone := make([]string, 0, len(p.known))
	for serial := range p.known {
		gone = append(gone, serial)
	}
	p.known = make(map[string]types.Observation)
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	slices.Sort(gone)
	for _, serial := range gone {
		p.events.ClientDisconnected.Emit(serial)
	}
	p.events.StatusChanged.Emit(platform.Status{Platform: p.ID(), Running: false, Message: "stopped"})
	return nil
}

func (p *Platform) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SendData declines: the bridge has no app data channel.
func (p *Platform) SendData(ctx context.Context, localID string, data types.DeviceData) bool {
	p.logger.Debug("Cable transport cannot deliver app data", zap.String("device", localID), zap.String("app", data.App))
	return false
}

func (p *Platform) BroadcastData(ctx context.Context, data types.DeviceData) error {
	return nil
}

// FetchClients runs the bridge's device listing.
func (p *Platform) FetchClients(ctx context.Context) ([]types.Observation, error) {
	devices, err := p.list(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Observation, 0, len(devices))
	for _, d := range devices {
		out = append(out, p.decorateLocked(d.observation()))
	}
	return out, nil
}

func (p *Platform) RefreshClients(ctx context.Context) bool {
	if !p.IsRunning() {
		return false
	}
	if err := p.poll(ctx); err != nil {
		return false
	}
	p.events.ClientList.Emit(p.snapshot())
	return true
}

// RefreshClient returns the last known state of a device, polling first
// when force is set.
func (p *Platform) RefreshClient(ctx context.Context, localID string, force bool) (types.Observation, bool) {
	if force {
		if err := p.poll(ctx); err != nil {
			p.logger.Debug("Refresh poll failed", zap.Error(err))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obs, ok := p.known[localID]
	return obs, ok
}

// UpdateClient keeps a local name override. There is nothing to propagate
// to the device.
func (p *Platform) UpdateClient(localID string, patch types.ClientPatch, propagate bool) {
	p.mu.Lock()
	if patch.Name != nil {
		p.names[localID] = *patch.Name
	}
	obs, ok := p.known[localID]
	if ok {
		obs = p.decorateLocked(obs)
		p.known[localID] = obs
	}
	p.mu.Unlock()

	if ok {
		p.events.ClientUpdated.Emit(obs)
	}
}

func (p *Platform) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := p.poll(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			p.logger.Warn("Device poll failed", zap.Error(err))
			p.events.Error.Emit(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}
}

// poll reconciles the known device set against a fresh listing and emits
// the differences.
func (p *Platform) poll(ctx context.Context) error {
	devices, err := p.list(ctx)
	if err != nil {
		return err
	}

	var connected, updated []types.Observation
	var gone []string
	seen := make(map[string]bool, len(devices))

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	for _, d := range devices {
		obs := p.decorateLocked(d.observation())
		seen[obs.LocalID] = true
		prev, had := p.known[obs.LocalID]
		p.known[obs.LocalID] = obs
		switch {
		case !had:
			connected = append(connected, obs)
		case changed(prev, obs):
			updated = append(updated, obs)
		}
	}
	for serial := range p.known {
		if !seen[serial] {
			delete(p.known, serial)
			gone = append(gone, serial)
		}
	}
	p.mu.Unlock()

	slices.Sort(gone)
	for _, obs := range connected {
		p.logger.Info("Device attached", zap.String("serial", obs.LocalID), zap.Bool("authorized", !obs.Established))
		p.events.ClientConnected.Emit(obs)
	}
	for _, obs := range updated {
		p.events.ClientUpdated.Emit(obs)
	}
	for _, serial := range gone {
		p.logger.Info("Device detached", zap.String("serial", serial))
		p.events.ClientDisconnected.Emit(serial)
	}
	return nil
}

func (p *Platform) list(ctx context.Context) ([]Device, error) {
	var out []byte
	err := p.breaker.Do(func() error {
		var err error
		out, err = p.runner.Run(ctx, "devices", "-l")
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

func (p *Platform) snapshot() []types.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Observation, 0, len(p.known))
	for _, obs := range p.known {
		out = append(out, obs)
	}
	slices.SortFunc(out, func(a, b types.Observation) int { return strings.Compare(a.LocalID, b.LocalID) })
	return out
}

func (p *Platform) decorateLocked(obs types.Observation) types.Observation {
	if name, ok := p.names[obs.LocalID]; ok {
		obs.Name = name
	}
	return obs
}

func changed(a, b types.Observation) bool {
	return a.Established != b.Established || a.Name != b.Name || a.Meta["state"] != b.Meta["state"]
}
