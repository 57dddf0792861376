package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// SubOperation is a weighted child of an operation.
type SubOperation struct {
	Channel types.ProgressChannel
	Weight  float64
}

type operation struct {
	children []types.ProgressChannel
	weights  map[types.ProgressChannel]float64
	total    float64
}

// emitted is an event queued for delivery once the lock is released.
type emitted struct {
	event  types.ProgressEvent
	nested bool
}

// Bus tracks channel state and operation hierarchy.
type Bus struct {
	mu         sync.Mutex
	state      map[types.ProgressChannel]types.ProgressEvent
	operations map[types.ProgressChannel]*operation
	parents    map[types.ProgressChannel][]types.ProgressChannel

	events  event.Emitter[types.ProgressEvent]
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		state:      make(map[types.ProgressChannel]types.ProgressEvent),
		operations: make(map[types.ProgressChannel]*operation),
		parents:    make(map[types.ProgressChannel][]types.ProgressChannel),
		logger:     logger,
	}
}

// WithMetrics adds metrics tracking to the bus
func (b *Bus) WithMetrics(metrics *monitoring.Metrics) *Bus {
	b.metrics = metrics
	return b
}

// Subscribe registers fn for every event, including those produced by
// propagation to parents.
func (b *Bus) Subscribe(fn func(types.ProgressEvent)) (unsubscribe func()) {
	return b.events.Subscribe(fn)
}

// Start resets channel to a bare 0% Running state and returns an Updater
// bound to it. Any operation previously registered on channel is dropped.
func (b *Bus) Start(channel types.ProgressChannel, op, message string) *Updater {
	b.mu.Lock()
	b.unlinkLocked(channel)
	out := b.applyLocked(types.ProgressEvent{
		Channel:   channel,
		Operation: op,
		Message:   message,
		Status:    types.StatusRunning,
	}, map[types.ProgressChannel]bool{})
	b.mu.Unlock()

	b.publish(out)
	return &Updater{bus: b, channel: channel}
}

// StartOperation starts channel as an operation over subs. Cached state of
// every sub-channel is cleared so the operation begins from a clean slate.
func (b *Bus) StartOperation(channel types.ProgressChannel, op, message string, subs ...SubOperation) *Updater {
	b.mu.Lock()
	b.unlinkLocked(channel)

	o := &operation{weights: make(map[types.ProgressChannel]float64, len(subs))}
	for _, sub := range subs {
		if sub.Weight < 0 || sub.Channel == channel {
			continue
		}
		if _, seen := o.weights[sub.Channel]; !seen {
			o.children = append(o.children, sub.Channel)
		} else {
			o.total -= o.weights[sub.Channel]
		}
		o.weights[sub.Channel] = sub.Weight
		o.total += sub.Weight

		delete(b.state, sub.Channel)
		b.linkLocked(sub.Channel, channel)
	}
	b.operations[channel] = o

	out := b.applyLocked(types.ProgressEvent{
		Channel:   channel,
		Operation: op,
		Message:   message,
		Status:    types.StatusRunning,
	}, map[types.ProgressChannel]bool{})
	b.mu.Unlock()

	b.publish(out)
	return &Updater{bus: b, channel: channel}
}

// Update sets the channel's progress and message. Status becomes Running.
func (b *Bus) Update(channel types.ProgressChannel, progress float64, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Progress = progress
		ev.Message = message
		ev.Status = types.StatusRunning
		ev.Error = ""
	})
}

// IncrementProgress adds delta to the channel's progress.
func (b *Bus) IncrementProgress(channel types.ProgressChannel, delta float64, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Progress += delta
		if message != "" {
			ev.Message = message
		}
		ev.Status = types.StatusRunning
		ev.Error = ""
	})
}

// Complete marks the channel complete at 100%. If the channel is an
// operation, its sub-channels are completed and unlinked.
func (b *Bus) Complete(channel types.ProgressChannel, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Message = message
		ev.Status = types.StatusComplete
		ev.Error = ""
	})
}

// Error marks the channel failed. If the channel is an operation, its
// sub-channels are unlinked without being completed.
func (b *Bus) Error(channel types.ProgressChannel, err error, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Message = message
		ev.Status = types.StatusError
		if err != nil {
			ev.Error = err.Error()
		}
	})
}

// Warn reports a non-fatal problem without changing progress.
func (b *Bus) Warn(channel types.ProgressChannel, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Message = message
		ev.Status = types.StatusWarn
	})
}

// Info reports a status line without changing progress.
func (b *Bus) Info(channel types.ProgressChannel, message string) {
	b.emitWith(channel, func(ev *types.ProgressEvent) {
		ev.Message = message
		ev.Status = types.StatusInfo
	})
}

// Emit publishes ev as the channel's new state. Progress is clamped and
// forced to 100 for terminal statuses.
func (b *Bus) Emit(ev types.ProgressEvent) {
	b.mu.Lock()
	if ev.Operation == "" {
		ev.Operation = b.state[ev.Channel].Operation
	}
	out := b.applyLocked(ev, map[types.ProgressChannel]bool{})
	b.mu.Unlock()

	b.publish(out)
}

// Get returns the last event seen on channel.
func (b *Bus) Get(channel types.ProgressChannel) (types.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.state[channel]
	return ev, ok
}

// Snapshot returns the last event of every known channel.
func (b *Bus) Snapshot() []types.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.ProgressEvent, 0, len(b.state))
	for _, ev := range b.state {
		out = append(out, ev)
	}
	return out
}

// Parents returns the operations channel currently reports into.
func (b *Bus) Parents(channel types.ProgressChannel) []types.ProgressChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.ProgressChannel(nil), b.parents[channel]...)
}

func (b *Bus) emitWith(channel types.ProgressChannel, mutate func(*types.ProgressEvent)) {
	b.mu.Lock()
	ev := b.state[channel]
	ev.Channel = channel
	ev.Metadata = nil
	mutate(&ev)
	out := b.applyLocked(ev, map[types.ProgressChannel]bool{})
	b.mu.Unlock()

	b.publish(out)
}

// applyLocked records ev, propagates it to every parent, and runs
// completion cleanup. path holds the channels being applied above this
// one; a channel already on it closes a cycle and is skipped. A shared
// ancestor reached again by another route is recomputed.
func (b *Bus) applyLocked(ev types.ProgressEvent, path map[types.ProgressChannel]bool) []emitted {
	if path[ev.Channel] {
		return nil
	}
	path[ev.Channel] = true
	defer delete(path, ev.Channel)

	ev.Progress = clamp(ev.Progress)
	if ev.Status.Terminal() {
		ev.Progress = 100
	}
	b.state[ev.Channel] = ev

	parents := append([]types.ProgressChannel(nil), b.parents[ev.Channel]...)
	out := []emitted{{event: ev, nested: len(parents) > 0}}

	for _, parent := range parents {
		op, ok := b.operations[parent]
		if !ok {
			continue
		}
		prev := b.state[parent]
		out = append(out, b.applyLocked(types.ProgressEvent{
			Channel:   parent,
			Operation: prev.Operation,
			Message:   ev.Message,
			Status:    parentStatus(ev.Status),
			Progress:  b.weightedLocked(op),
			Error:     ev.Error,
		}, path)...)
	}

	if op, ok := b.operations[ev.Channel]; ok && ev.Status.Terminal() {
		delete(b.operations, ev.Channel)
		for _, child := range op.children {
			b.removeParentLocked(child, ev.Channel)
		}
		if ev.Status == types.StatusComplete {
			for _, child := range op.children {
				if cur, ok := b.state[child]; ok && cur.Status == types.StatusComplete {
					continue
				}
				out = append(out, b.applyLocked(types.ProgressEvent{
					Channel:   child,
					Operation: b.state[child].Operation,
					Message:   ev.Message,
					Status:    types.StatusComplete,
				}, path)...)
			}
		}
	}
	return out
}

func (b *Bus) weightedLocked(op *operation) float64 {
	if op.total <= 0 {
		return 0
	}
	sum := 0.0
	for _, child := range op.children {
		sum += b.state[child].Progress * op.weights[child]
	}
	return clamp(sum / op.total)
}

func (b *Bus) linkLocked(child, parent types.ProgressChannel) {
	for _, p := range b.parents[child] {
		if p == parent {
			return
		}
	}
	b.parents[child] = append(b.parents[child], parent)
}

func (b *Bus) removeParentLocked(child, parent types.ProgressChannel) {
	list := b.parents[child]
	for i, p := range list {
		if p == parent {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.parents, child)
		return
	}
	b.parents[child] = list
}

// unlinkLocked drops an operation registered on channel without touching
// its children's state.
func (b *Bus) unlinkLocked(channel types.ProgressChannel) {
	op, ok := b.operations[channel]
	if !ok {
		return
	}
	delete(b.operations, channel)
	for _, child := range op.children {
		b.removeParentLocked(child, channel)
	}
}

func (b *Bus) publish(out []emitted) {
	for _, e := range out {
		b.log(e)
		b.metrics.RecordProgress(string(e.event.Status))
		b.events.Emit(e.event)
	}
}

func (b *Bus) log(e emitted) {
	ev := e.event
	fields := []zap.Field{
		zap.String("channel", string(ev.Channel)),
		zap.String("operation", ev.Operation),
		zap.Float64("progress", ev.Progress),
		zap.String("status", string(ev.Status)),
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}

	if e.nested {
		b.logger.Debug(ev.Message, fields...)
		return
	}
	switch ev.Status {
	case types.StatusError:
		b.logger.Error(ev.Message, fields...)
	case types.StatusWarn:
		b.logger.Warn(ev.Message, fields...)
	default:
		b.logger.Info(ev.Message, fields...)
	}
}

// parentStatus maps a child's status onto its parent.
func parentStatus(s types.ProgressStatus) types.ProgressStatus {
	switch s {
	case types.StatusError:
		return types.StatusWarn
	case types.StatusComplete:
		return types.StatusRunning
	default:
		return s
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
