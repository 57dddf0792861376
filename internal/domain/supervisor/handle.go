package supervisor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a process handle's lifecycle state.
type State string

const (
	StateSpawning State = "spawning"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateErrored  State = "errored"
	StateExited   State = "exited"
)

// Terminal reports whether s ends the handle.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrored || s == StateExited
}

// HandleInfo is a read-only view of a handle.
type HandleInfo struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	Version   string    `json:"version,omitempty"`
	State     State     `json:"state"`
	Runtime   string    `json:"runtime,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Handle owns one execution context. Lines posted before the context is
// attached are held and flushed in order once it is.
type Handle struct {
	id        string
	app       string
	startedAt time.Time

	mu      sync.Mutex
	state   State
	version string
	runtime string
	proc    Process
	pending [][]byte
}

func newHandle(app string, now time.Time) *Handle {
	return &Handle{
		id:        uuid.New().String(),
		app:       app,
		startedAt: now,
		state:     StateSpawning,
	}
}

func (h *Handle) attach(proc Process, runtime string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = proc
	h.runtime = runtime
	for _, line := range h.pending {
		if err := proc.Post(line); err != nil {
			h.pending = nil
			return err
		}
	}
	h.pending = nil
	return nil
}

func (h *Handle) post(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc == nil {
		h.pending = append(h.pending, line)
		return nil
	}
	return h.proc.Post(line)
}

func (h *Handle) kill() error {
	h.mu.Lock()
	proc := h.proc
	h.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// transition moves to next unless the handle is already terminal.
func (h *Handle) transition(next State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = next
	return true
}

func (h *Handle) setVersion(v string) {
	if v == "" {
		return
	}
	h.mu.Lock()
	h.version = v
	h.mu.Unlock()
}

func (h *Handle) info() HandleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandleInfo{
		ID:        h.id,
		App:       h.app,
		Version:   h.version,
		State:     h.state,
		Runtime:   h.runtime,
		StartedAt: h.startedAt,
	}
}
