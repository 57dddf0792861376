package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
)

// Supervisor owns every app's execution context.
type Supervisor struct {
	mu      sync.Mutex
	handles map[string]*Handle // Protected by mu

	resolver Resolver
	loaders  map[string]Loader
	codec    *protocol.Codec
	clock    clock.Clock
	logger   *logging.Logger
	log      *zap.Logger
	metrics  *monitoring.Metrics

	lifecycle event.Emitter[Lifecycle]
}

// New creates a supervisor. loaders is keyed by runtime name.
func New(resolver Resolver, loaders map[string]Loader, codec *protocol.Codec, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		handles:  make(map[string]*Handle),
		resolver: resolver,
		loaders:  loaders,
		codec:    codec,
		clock:    clock.Real(),
		logger:   logger,
		log:      logger.Component("supervisor"),
	}
}

// WithMetrics adds metrics tracking to the supervisor
func (s *Supervisor) WithMetrics(metrics *monitoring.Metrics) *Supervisor {
	s.metrics = metrics
	return s
}

// WithClock replaces the clock used for handle timestamps.
func (s *Supervisor) WithClock(c clock.Clock) *Supervisor {
	s.clock = c
	return s
}

// OnLifecycle subscribes to lifecycle events.
func (s *Supervisor) OnLifecycle(fn func(Lifecycle)) (unsubscribe func()) {
	return s.lifecycle.Subscribe(fn)
}

// Spawn creates an execution context for app. It returns false and emits
// an Error event if a handle already exists, no entry point is found, or
// the context cannot be created. Readiness is reported asynchronously.
func (s *Supervisor) Spawn(ctx context.Context, app, entry, runtime string) bool {
	s.mu.Lock()
	if _, exists := s.handles[app]; exists {
		s.mu.Unlock()
		s.log.Warn("Spawn refused", zap.String("app", app), zap.Error(errors.ErrAlreadyRunning))
		s.lifecycle.Emit(Lifecycle{App: app, Kind: LifecycleError, Err: errors.ErrAlreadyRunning})
		return false
	}
	h := newHandle(app, s.clock.Now())
	s.handles[app] = h
	s.mu.Unlock()

	proc, spec, err := s.launch(ctx, h, app, entry, runtime)
	if err != nil {
		s.release(h)
		s.metrics.RecordSpawn(false)
		s.metrics.RecordFault(app, "spawn")
		s.log.Error("Spawn failed", zap.String("app", app), zap.Error(err))
		s.lifecycle.Emit(Lifecycle{App: app, Kind: LifecycleError, Terminal: true, Err: err})
		return false
	}

	if err := h.attach(proc, spec.Runtime); err != nil {
		s.logger.ForApp(app).Warn("Failed to deliver queued message", zap.Error(err))
	}

	s.mu.Lock()
	current := s.handles[app] == h
	s.mu.Unlock()
	if !current {
		// Terminated or exited while the context was being created.
		if err := proc.Kill(); err != nil {
			s.log.Warn("Kill after release failed", zap.String("app", app), zap.Error(err))
		}
		s.metrics.RecordSpawn(false)
		return false
	}

	s.metrics.RecordSpawn(true)
	s.metrics.SetAppsRunning(s.count())
	s.log.Info("App spawned",
		zap.String("app", app),
		zap.String("handle", h.id),
		zap.String("runtime", spec.Runtime))
	return true
}

func (s *Supervisor) launch(ctx context.Context, h *Handle, app, entry, runtime string) (Process, LaunchSpec, error) {
	spec, err := s.resolver.Resolve(app, entry, runtime)
	if err != nil {
		return nil, spec, err
	}
	loader, ok := s.loaders[spec.Runtime]
	if !ok {
		return nil, spec, fmt.Errorf("%w: no loader for runtime %q", errors.ErrNoEntryPoint, spec.Runtime)
	}
	proc, err := loader.Spawn(ctx, spec, s.hooks(h))
	if err != nil {
		return nil, spec, fmt.Errorf("%w: %v", errors.ErrSpawnFailed, err)
	}
	return proc, spec, nil
}

// PostMessage delivers msg to app's context. Without a handle it logs a
// warning and does nothing. Delivery is not acknowledged.
func (s *Supervisor) PostMessage(app string, msg protocol.HostMessage) {
	h := s.handle(app)
	if h == nil {
		s.log.Warn("No process for message", zap.String("app", app), zap.String("type", string(msg.Type)))
		return
	}

	line, err := s.codec.Encode(msg)
	if err != nil {
		s.log.Warn("Failed to encode message", zap.String("app", app), zap.Error(err))
		return
	}
	if err := h.post(line); err != nil {
		s.logger.ForApp(app).Warn("Failed to post message", zap.Error(err))
		return
	}
	s.metrics.RecordAppMessage("out", string(msg.Type))
}

// Terminate kills app's context and removes its handle whether or not the
// kill succeeds. It returns false if no handle exists.
func (s *Supervisor) Terminate(app string) bool {
	s.mu.Lock()
	h, ok := s.handles[app]
	if ok {
		delete(s.handles, app)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	h.transition(StateStopped)
	if err := h.kill(); err != nil {
		s.logger.ForApp(app).Warn("Terminate failed", zap.Error(err))
	}
	s.metrics.SetAppsRunning(s.count())
	s.log.Info("App terminated", zap.String("app", app), zap.String("handle", h.id))
	s.lifecycle.Emit(Lifecycle{App: app, Kind: LifecycleStopped, Terminal: true})
	return true
}

// IsRunning reports whether app has a handle.
func (s *Supervisor) IsRunning(app string) bool {
	return s.handle(app) != nil
}

// Handle returns a view of app's handle.
func (s *Supervisor) Handle(app string) (HandleInfo, bool) {
	h := s.handle(app)
	if h == nil {
		return HandleInfo{}, false
	}
	return h.info(), true
}

// Handles returns a view of every handle, sorted by app.
func (s *Supervisor) Handles() []HandleInfo {
	s.mu.Lock()
	list := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		list = append(list, h)
	}
	s.mu.Unlock()

	out := make([]HandleInfo, 0, len(list))
	for _, h := range list {
		out = append(out, h.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}

// Close terminates every context.
func (s *Supervisor) Close() {
	for _, info := range s.Handles() {
		s.Terminate(info.App)
	}
}

func (s *Supervisor) hooks(h *Handle) Hooks {
	appLog := s.logger.ForApp(h.app)
	return Hooks{
		OnLine: func(line []byte) { s.handleLine(h, appLog, line) },
		OnOnline: func() {
			if !s.current(h) || !h.transition(StateRunning) {
				return
			}
			s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleOnline})
		},
		OnOutput: func(stream Stream, line string) {
			if stream == Stderr {
				appLog.Warn(line, zap.String("stream", string(stream)))
				return
			}
			appLog.Info(line, zap.String("stream", string(stream)))
		},
		OnExit: func(code int, err error) { s.handleExit(h, appLog, code, err) },
	}
}

func (s *Supervisor) handleLine(h *Handle, appLog *zap.Logger, line []byte) {
	if !s.current(h) {
		return
	}

	decoded, err := s.codec.Decode(line)
	if err != nil {
		s.metrics.RecordProtocolDrop(h.app)
		appLog.Warn("Dropped message", zap.Error(err))
		return
	}
	h.setVersion(decoded.Version)
	s.metrics.RecordAppMessage("in", protocol.TypeOf(decoded.Message))

	switch m := decoded.Message.(type) {
	case protocol.StartedMessage:
		h.transition(StateRunning)
		s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleStarted})

	case protocol.StoppedMessage:
		if !s.release(h) {
			return
		}
		h.transition(StateStopped)
		if err := h.kill(); err != nil {
			appLog.Warn("Kill after stop failed", zap.Error(err))
		}
		s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleStopped, Terminal: true})

	case protocol.ErrorMessage:
		appLog.Error(m.Message)
		s.metrics.RecordFault(h.app, "error")
		s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleError, Err: errors.New(m.Message)})

	case protocol.LogMessage:
		logAt(appLog, m.Level, m.Message)

	case protocol.DataMessage:
		s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleData, Data: &m})
	}
}

func (s *Supervisor) handleExit(h *Handle, appLog *zap.Logger, code int, err error) {
	if !s.release(h) {
		return
	}
	if killErr := h.kill(); killErr != nil {
		appLog.Debug("Cleanup kill failed", zap.Error(killErr))
	}

	if code != 0 || err != nil {
		h.transition(StateErrored)
		if err == nil {
			err = fmt.Errorf("exited with code %d", code)
		}
		s.metrics.RecordFault(h.app, "exit")
		appLog.Error("App crashed", zap.Int("code", code), zap.Error(err))
		s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleError, Terminal: true, Code: code, Err: err})
		return
	}

	h.transition(StateExited)
	appLog.Info("App exited")
	s.lifecycle.Emit(Lifecycle{App: h.app, Kind: LifecycleExited, Terminal: true})
}

// release removes h if it is still the app's handle.
func (s *Supervisor) release(h *Handle) bool {
	s.mu.Lock()
	if s.handles[h.app] != h {
		s.mu.Unlock()
		return false
	}
	delete(s.handles, h.app)
	n := len(s.handles)
	s.mu.Unlock()
	s.metrics.SetAppsRunning(n)
	return true
}

func (s *Supervisor) current(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[h.app] == h
}

func (s *Supervisor) handle(app string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[app]
}

func (s *Supervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func logAt(l *zap.Logger, level, msg string) {
	switch level {
	case "debug":
		l.Debug(msg)
	case "warn", "warning":
		l.Warn(msg)
	case "error":
		l.Error(msg)
	default:
		l.Info(msg)
	}
}
