package supervisor

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
)

type fakeProcess struct {
	mu      sync.Mutex
	posted  []string
	kills   int
	killErr error
}

func (p *fakeProcess) Post(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, string(line))
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	return p.killErr
}

func (p *fakeProcess) Posted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posted...)
}

func (p *fakeProcess) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type fakeLoader struct {
	mu      sync.Mutex
	err     error
	killErr error
	hooks   []Hooks
	procs   []*fakeProcess
}

func (l *fakeLoader) Spawn(ctx context.Context, spec LaunchSpec, hooks Hooks) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProcess{killErr: l.killErr}
	l.hooks = append(l.hooks, hooks)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLoader) last() (Hooks, *fakeProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hooks[len(l.hooks)-1], l.procs[len(l.procs)-1]
}

func (l *fakeLoader) spawned() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

type fakeResolver struct {
	missing map[string]bool
}

func (r *fakeResolver) Resolve(app, entry, runtime string) (LaunchSpec, error) {
	if r.missing[app] {
		return LaunchSpec{}, errors.ErrNoEntryPoint
	}
	return LaunchSpec{App: app, Entry: app + ".bin", Runtime: "fake"}, nil
}
