package identity

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/event"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/id"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// EventKind classifies a change to a client.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventUpdated      EventKind = "updated"
	EventDisconnected EventKind = "disconnected"
)

// Event describes one change to a client.
type Event struct {
	Kind            EventKind        `json:"kind"`
	Client          types.Client     `json:"client"`
	PreviousPrimary types.PlatformID `json:"previousPrimary,omitempty"`
}

// PrimaryChanged reports whether the change moved the primary provider.
func (e Event) PrimaryChanged() bool {
	return e.PreviousPrimary != e.Client.PrimaryProviderID
}

// aliasKey scopes a local id to the platform that reported it.
type aliasKey struct {
	platform types.PlatformID
	localID  string
}

// Engine owns every client record.
type Engine struct {
	mu      sync.Mutex
	clients map[string]*types.Client // Protected by mu; keyed by canonical id
	order   []string                 // Protected by mu
	aliases map[aliasKey]string      // Protected by mu; platform-local id -> canonical id

	matcher Matcher
	clock   clock.Clock
	logger  *zap.Logger
	metrics *monitoring.Metrics

	events event.Emitter[Event]
}

// NewEngine creates an engine using matcher as the same-device predicate.
func NewEngine(matcher Matcher, logger *zap.Logger) *Engine {
	if matcher == nil {
		matcher = StrongIDMatcher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		clients: make(map[string]*types.Client),
		aliases: make(map[aliasKey]string),
		matcher: matcher,
		clock:   clock.Real(),
		logger:  logger,
	}
}

// WithMetrics adds metrics tracking to the engine
func (e *Engine) WithMetrics(metrics *monitoring.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// WithClock replaces the clock used for connection timestamps.
func (e *Engine) WithClock(c clock.Clock) *Engine {
	e.clock = c
	return e
}

// Subscribe receives every client event.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.events.Subscribe(fn)
}

// OnConnected receives clients that reached the Connected state.
func (e *Engine) OnConnected(fn func(types.Client)) (unsubscribe func()) {
	return e.subscribeKind(EventConnected, fn)
}

// OnUpdated receives clients that changed without connecting or
// disconnecting, including failovers to another provider.
func (e *Engine) OnUpdated(fn func(types.Client)) (unsubscribe func()) {
	return e.subscribeKind(EventUpdated, fn)
}

// OnDisconnected receives clients that lost their last active identifier.
func (e *Engine) OnDisconnected(fn func(types.Client)) (unsubscribe func()) {
	return e.subscribeKind(EventDisconnected, fn)
}

func (e *Engine) subscribeKind(kind EventKind, fn func(types.Client)) func() {
	return e.events.Subscribe(func(ev Event) {
		if ev.Kind == kind {
			fn(ev.Client)
		}
	})
}

// Connect merges an observation and returns the resulting event.
func (e *Engine) Connect(obs types.Observation) Event {
	e.mu.Lock()
	c := e.findLocked(obs)
	isNew := c == nil
	if isNew {
		c = e.createLocked(obs)
	}

	prevState, prevPrimary := c.ConnectionState, c.PrimaryProviderID
	if isNew {
		prevState, prevPrimary = types.StateDisconnected, ""
	}
	if old, ok := c.Identifier(obs.PlatformID); ok && old.ID != obs.LocalID {
		e.unaliasLocked(obs.PlatformID, old.ID, c.ClientID)
	}

	setIdentifier(c, types.Identifier{
		ID:           obs.LocalID,
		ProviderID:   obs.PlatformID,
		Active:       true,
		Established:  obs.Established,
		Capabilities: append([]types.Capability(nil), obs.Capabilities...),
	})
	mergeFields(c, obs)
	if obs.LocalID != "" {
		key := aliasKey{obs.PlatformID, obs.LocalID}
		if owner, taken := e.aliases[key]; taken && owner != c.ClientID {
			e.logger.Warn("Local id already bound to another client",
				zap.String("platform", string(obs.PlatformID)),
				zap.String("id", obs.LocalID),
				zap.String("owner", owner),
				zap.String("client", c.ClientID),
			)
		} else {
			e.aliases[key] = c.ClientID
		}
	}
	recompute(c)
	if c.ConnectionState == types.StateConnected && prevState != types.StateConnected {
		now := e.clock.Now()
		c.ConnectedAt = &now
	}

	ev := Event{Kind: EventUpdated, Client: c.Clone(), PreviousPrimary: prevPrimary}
	if c.ConnectionState == types.StateConnected && prevState != types.StateConnected {
		ev.Kind = EventConnected
	}
	connected := e.connectedLocked()
	e.mu.Unlock()

	e.publish(ev, connected)
	return ev
}

// Disconnect marks the platform's identifier inactive. ok is false if the
// id is unknown or the identifier was already inactive.
func (e *Engine) Disconnect(platform types.PlatformID, localID string) (Event, bool) {
	e.mu.Lock()
	c := e.resolveOnLocked(platform, localID)
	if c == nil {
		e.mu.Unlock()
		e.logger.Warn("Disconnect for unknown client",
			zap.String("platform", string(platform)), zap.String("id", localID))
		return Event{}, false
	}
	ev, ok := e.deactivateLocked(c, platform)
	connected := e.connectedLocked()
	e.mu.Unlock()

	if ok {
		e.publish(ev, connected)
	}
	return ev, ok
}

// DisconnectPlatform deactivates every identifier held by platform.
func (e *Engine) DisconnectPlatform(platform types.PlatformID) []Event {
	e.mu.Lock()
	var events []Event
	for _, cid := range e.order {
		if ev, ok := e.deactivateLocked(e.clients[cid], platform); ok {
			events = append(events, ev)
		}
	}
	connected := e.connectedLocked()
	e.mu.Unlock()

	for _, ev := range events {
		e.publish(ev, connected)
	}
	return events
}

// ForgetPlatform removes every identifier held by platform. Clients left
// with no identifiers are pruned by the next List.
func (e *Engine) ForgetPlatform(platform types.PlatformID) []Event {
	e.mu.Lock()
	var events []Event
	for _, cid := range e.order {
		c := e.clients[cid]
		ev, changed := e.deactivateLocked(c, platform)
		kept := c.Identifiers[:0]
		for _, ident := range c.Identifiers {
			if ident.ProviderID == platform {
				e.unaliasLocked(platform, ident.ID, c.ClientID)
				continue
			}
			kept = append(kept, ident)
		}
		c.Identifiers = kept
		if changed {
			ev.Client = c.Clone()
			events = append(events, ev)
		}
	}
	connected := e.connectedLocked()
	e.mu.Unlock()

	for _, ev := range events {
		e.publish(ev, connected)
	}
	return events
}

// Update applies a patch to a client's descriptive fields.
func (e *Engine) Update(clientID string, patch types.ClientPatch) (types.Client, bool) {
	e.mu.Lock()
	c := e.resolveLocked(clientID)
	if c == nil {
		e.mu.Unlock()
		return types.Client{}, false
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	for k, v := range patch.Meta {
		if c.Meta == nil {
			c.Meta = make(map[string]any)
		}
		c.Meta[k] = v
	}
	ev := Event{Kind: EventUpdated, Client: c.Clone(), PreviousPrimary: c.PrimaryProviderID}
	connected := e.connectedLocked()
	e.mu.Unlock()

	e.publish(ev, connected)
	return ev.Client, true
}

// ResolveProvider returns the identifier outbound traffic to clientID
// should use. With no required capabilities that is the primary provider;
// otherwise it is the primary if it has them all, else the highest scoring
// active identifier that does. The error wraps ErrNotFound or ErrNoProvider.
func (e *Engine) ResolveProvider(clientID string, required ...types.Capability) (types.Identifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.resolveLocked(clientID)
	if c == nil {
		return types.Identifier{}, fmt.Errorf("client %s: %w", clientID, errors.ErrNotFound)
	}
	if primary, ok := c.Primary(); ok && primary.Active && hasAll(primary, required) {
		return primary, nil
	}
	if len(required) > 0 {
		best, found := types.Identifier{}, false
		for _, ident := range c.Identifiers {
			if ident.Active && hasAll(ident, required) && (!found || ident.Score() > best.Score()) {
				best, found = ident, true
			}
		}
		if found {
			return best, nil
		}
	}
	return types.Identifier{}, fmt.Errorf("client %s: %w", clientID, errors.ErrNoProvider)
}

// Get returns the client known by id, canonical or secondary.
func (e *Engine) Get(id string) (types.Client, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.resolveLocked(id)
	if c == nil {
		return types.Client{}, false
	}
	return c.Clone(), true
}

// Canonical returns the canonical id of the client platform knows as
// localID.
func (e *Engine) Canonical(platform types.PlatformID, localID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.resolveOnLocked(platform, localID)
	if c == nil {
		return "", false
	}
	return c.ClientID, true
}

// List returns every client in first-seen order, pruning clients that
// have no identifiers left.
func (e *Engine) List() []types.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.order[:0]
	out := make([]types.Client, 0, len(e.order))
	for _, cid := range e.order {
		c := e.clients[cid]
		if len(c.Identifiers) == 0 {
			e.pruneLocked(cid)
			continue
		}
		kept = append(kept, cid)
		out = append(out, c.Clone())
	}
	e.order = kept
	return out
}

// ForPlatform returns the local ids platform holds active identifiers for.
func (e *Engine) ForPlatform(platform types.PlatformID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, cid := range e.order {
		if ident, ok := e.clients[cid].Identifier(platform); ok && ident.Active {
			ids = append(ids, ident.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) findLocked(obs types.Observation) *types.Client {
	if obs.LocalID != "" {
		if c := e.clients[e.aliases[aliasKey{obs.PlatformID, obs.LocalID}]]; c != nil {
			return c
		}
	}
	for _, cid := range e.order {
		c := e.clients[cid]
		if e.matcher.Match(*c, obs) {
			return c
		}
	}
	return nil
}

func (e *Engine) createLocked(obs types.Observation) *types.Client {
	cid := obs.LocalID
	if _, taken := e.clients[cid]; cid == "" || taken {
		cid = string(id.NewClientID())
	}
	c := &types.Client{ClientID: cid, ConnectionState: types.StateDisconnected}
	e.clients[cid] = c
	e.order = append(e.order, cid)
	e.logger.Debug("Registered client", zap.String("client", cid), zap.String("platform", string(obs.PlatformID)))
	return c
}

// resolveLocked finds a client by canonical id, then by the local id of
// any identifier, oldest client first.
func (e *Engine) resolveLocked(id string) *types.Client {
	if c, ok := e.clients[id]; ok {
		return c
	}
	for _, cid := range e.order {
		c := e.clients[cid]
		for _, ident := range c.Identifiers {
			if ident.ID == id {
				return c
			}
		}
	}
	return nil
}

// resolveOnLocked finds the client platform knows as localID. A canonical
// id is accepted when that client holds an identifier on platform.
func (e *Engine) resolveOnLocked(platform types.PlatformID, localID string) *types.Client {
	if c := e.clients[e.aliases[aliasKey{platform, localID}]]; c != nil {
		return c
	}
	if c, ok := e.clients[localID]; ok {
		if _, held := c.Identifier(platform); held {
			return c
		}
	}
	return nil
}

// unaliasLocked drops the alias only while it still points at cid.
func (e *Engine) unaliasLocked(platform types.PlatformID, localID, cid string) {
	key := aliasKey{platform, localID}
	if e.aliases[key] == cid {
		delete(e.aliases, key)
	}
}

func (e *Engine) deactivateLocked(c *types.Client, platform types.PlatformID) (Event, bool) {
	changed := false
	for i := range c.Identifiers {
		if c.Identifiers[i].ProviderID == platform && c.Identifiers[i].Active {
			c.Identifiers[i].Active = false
			changed = true
		}
	}
	if !changed {
		return Event{}, false
	}

	prevPrimary := c.PrimaryProviderID
	recompute(c)
	kind := EventUpdated
	if c.ConnectionState == types.StateDisconnected {
		kind = EventDisconnected
		c.ConnectedAt = nil
	}
	return Event{Kind: kind, Client: c.Clone(), PreviousPrimary: prevPrimary}, true
}

func (e *Engine) pruneLocked(cid string) {
	delete(e.clients, cid)
	for alias, target := range e.aliases {
		if target == cid {
			delete(e.aliases, alias)
		}
	}
	e.logger.Debug("Pruned client", zap.String("client", cid))
}

func (e *Engine) connectedLocked() int {
	n := 0
	for _, c := range e.clients {
		if c.ConnectionState == types.StateConnected {
			n++
		}
	}
	return n
}

func (e *Engine) publish(ev Event, connected int) {
	e.metrics.RecordClientEvent(string(ev.Kind))
	e.metrics.SetClientsConnected(connected)

	fields := []zap.Field{
		zap.String("client", ev.Client.ClientID),
		zap.String("state", string(ev.Client.ConnectionState)),
		zap.String("primary", string(ev.Client.PrimaryProviderID)),
	}
	switch {
	case ev.Kind != EventUpdated:
		e.logger.Info("Client "+string(ev.Kind), fields...)
	case ev.PrimaryChanged():
		e.logger.Info("Client failed over", append(fields, zap.String("previous", string(ev.PreviousPrimary)))...)
	default:
		e.logger.Debug("Client updated", fields...)
	}
	e.events.Emit(ev)
}

// setIdentifier replaces the platform's entry or appends a new one.
func setIdentifier(c *types.Client, ident types.Identifier) {
	for i := range c.Identifiers {
		if c.Identifiers[i].ProviderID == ident.ProviderID {
			c.Identifiers[i] = ident
			return
		}
	}
	c.Identifiers = append(c.Identifiers, ident)
}

// mergeFields copies every non-empty descriptive field; the latest
// observation wins.
func mergeFields(c *types.Client, obs types.Observation) {
	if obs.Name != "" {
		c.Name = obs.Name
	}
	if obs.Serial != "" {
		c.Serial = obs.Serial
	}
	if obs.Token != "" {
		c.Token = obs.Token
	}
	for k, v := range obs.Meta {
		if c.Meta == nil {
			c.Meta = make(map[string]any)
		}
		c.Meta[k] = v
	}
}

// recompute derives connection state and primary provider from the active
// identifiers. The first identifier with the highest score wins.
func recompute(c *types.Client) {
	var best *types.Identifier
	anyConnected := false
	for i := range c.Identifiers {
		ident := &c.Identifiers[i]
		if !ident.Active {
			continue
		}
		if !ident.Established {
			anyConnected = true
		}
		if best == nil || ident.Score() > best.Score() {
			best = ident
		}
	}

	switch {
	case best == nil:
		c.ConnectionState = types.StateDisconnected
		c.PrimaryProviderID = ""
	case anyConnected:
		c.ConnectionState = types.StateConnected
		c.PrimaryProviderID = best.ProviderID
	default:
		c.ConnectionState = types.StateEstablished
		c.PrimaryProviderID = best.ProviderID
	}
}

func hasAll(ident types.Identifier, required []types.Capability) bool {
	for _, c := range required {
		if !ident.Has(c) {
			return false
		}
	}
	return true
}
