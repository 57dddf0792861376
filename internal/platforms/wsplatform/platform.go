package wsplatform

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/id"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Config tunes connection handling.
type Config struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int64
	// MaxConnections caps concurrent sockets on the platform's own
	// listener. Zero means unlimited.
	MaxConnections int
}

// DefaultConfig returns production keepalive settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PongWait:         60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrameBytes:    1 << 20,
		MaxConnections:   256,
	}
}

// Platform accepts device connections over websocket.
type Platform struct {
	cfg      Config
	events   platform.Events
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	running bool
	server  *http.Server
	addr    string
	devices map[string]*conn   // Keyed by local id, populated on hello
	pending map[*conn]struct{} // Connections that have not said hello
}

// New creates a stopped platform.
func New(cfg Config, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Platform{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are not browsers; origin checks do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		devices: make(map[string]*conn),
		pending: make(map[*conn]struct{}),
	}
}

func (p *Platform) ID() types.PlatformID     { return types.PlatformWebSocket }
func (p *Platform) Name() string             { return "Network" }
func (p *Platform) Events() *platform.Events { return &p.events }
func (p *Platform) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityPing, types.CapabilityCommunicate}
}

// Handler returns the websocket endpoint. It can be mounted on another
// server when Start is given no address.
func (p *Platform) Handler() http.Handler {
	return http.HandlerFunc(p.serve)
}

// Addr returns the bound listen address, or "" when the platform has no
// listener of its own.
func (p *Platform) Addr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr
}

// Start begins accepting connections. With a non-empty opts.Address the
// platform listens on it; otherwise only Handler serves devices.
func (p *Platform) Start(ctx context.Context, opts platform.Options) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}

	var ln net.Listener
	if opts.Address != "" {
		var err error
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", opts.Address)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("listen %s: %w", opts.Address, err)
		}
		if p.cfg.MaxConnections > 0 {
			ln = netutil.LimitListener(ln, p.cfg.MaxConnections)
		}
		mux := http.NewServeMux()
		mux.Handle("/", p.Handler())
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: p.cfg.HandshakeTimeout}
		p.addr = ln.Addr().String()
	}
	p.running = true
	srv, addr := p.server, p.addr
	p.mu.Unlock()

	if srv != nil {
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("Websocket server stopped", zap.Error(err))
				p.events.Error.Emit(err)
			}
		}()
		p.events.ServerStarted.Emit(addr)
	}
	p.events.StatusChanged.Emit(platform.Status{Platform: p.ID(), Running: true, Message: "accepting devices"})
	return nil
}

// Stop closes the listener and every device connection.
func (p *Platform) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	srv := p.server
	p.server, p.addr = nil, ""
	conns := make([]*conn, 0, len(p.devices)+len(p.pending))
	for _, c := range p.devices {
		conns = append(conns, c)
	}
	for c := range p.pending {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	// Hijacked connections are not closed by Shutdown.
	for _, c := range conns {
		c.close()
	}
	p.events.StatusChanged.Emit(platform.Status{Platform: p.ID(), Running: false, Message: "stopped"})
	return err
}

func (p *Platform) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// SendData writes a data frame to one device.
func (p *Platform) SendData(ctx context.Context, localID string, data types.DeviceData) bool {
	c := p.device(localID)
	if c == nil {
		p.logger.Debug("Send to unknown device", zap.String("device", localID))
		return false
	}
	if err := c.write(dataFrame(data)); err != nil {
		p.logger.Warn("Send failed", zap.String("device", localID), zap.Error(err))
		return false
	}
	return true
}

// BroadcastData writes a data frame to every device.
func (p *Platform) BroadcastData(ctx context.Context, data types.DeviceData) error {
	p.mu.RLock()
	conns := make([]*conn, 0, len(p.devices))
	for _, c := range p.devices {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(dataFrame(data)); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", c.localID, err))
		}
	}
	return errors.Join(errs...)
}

// FetchClients lists the devices that have completed the handshake.
func (p *Platform) FetchClients(ctx context.Context) ([]types.Observation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil, fmt.Errorf("websocket platform: %w", errors.ErrClosed)
	}
	out := make([]types.Observation, 0, len(p.devices))
	for _, c := range p.devices {
		out = append(out, c.obs)
	}
	slices.SortFunc(out, func(a, b types.Observation) int { return strings.Compare(a.LocalID, b.LocalID) })
	return out, nil
}

func (p *Platform) RefreshClients(ctx context.Context) bool {
	list, err := p.FetchClients(ctx)
	if err != nil {
		return false
	}
	p.events.ClientList.Emit(list)
	return true
}

// RefreshClient returns the last hello of a device. With force the device
// is also asked to send a fresh one.
func (p *Platform) RefreshClient(ctx context.Context, localID string, force bool) (types.Observation, bool) {
	c := p.device(localID)
	if c == nil {
		return types.Observation{}, false
	}
	if force {
		if err := c.write(frame{Type: frameRefresh}); err != nil {
			p.logger.Debug("Refresh request failed", zap.String("device", localID), zap.Error(err))
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return c.obs, true
}

func (p *Platform) UpdateClient(localID string, patch types.ClientPatch, propagate bool) {
	p.mu.Lock()
	c := p.devices[localID]
	if c == nil {
		p.mu.Unlock()
		return
	}
	if patch.Name != nil {
		c.obs.Name = *patch.Name
	}
	if len(patch.Meta) > 0 {
		meta := make(map[string]any, len(c.obs.Meta)+len(patch.Meta))
		for k, v := range c.obs.Meta {
			meta[k] = v
		}
		for k, v := range patch.Meta {
			meta[k] = v
		}
		c.obs.Meta = meta
	}
	obs := c.obs
	p.mu.Unlock()

	if propagate {
		if err := c.write(frame{Type: frameUpdate, Name: obs.Name, Meta: patch.Meta}); err != nil {
			p.logger.Debug("Update not delivered", zap.String("device", localID), zap.Error(err))
		}
	}
	p.events.ClientUpdated.Emit(obs)
}

func (p *Platform) device(localID string) *conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.devices[localID]
}

func (p *Platform) serve(w http.ResponseWriter, r *http.Request) {
	if !p.IsRunning() {
		http.Error(w, "platform stopped", http.StatusServiceUnavailable)
		return
	}
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(ws, p.cfg)
	p.mu.Lock()
	p.pending[c] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("Device connected", zap.String("remote", r.RemoteAddr))
	p.readLoop(c)
	p.release(c)
}

func (p *Platform) readLoop(c *conn) {
	c.ws.SetReadLimit(p.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout))

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug("Device read failed", zap.String("device", c.localID), zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(raw)
		if err != nil {
			p.logger.Warn("Dropping malformed frame", zap.String("device", c.localID), zap.Error(err))
			continue
		}

		switch f.Type {
		case frameHello:
			p.hello(c, f)
		case frameData:
			if c.localID == "" {
				p.logger.Warn("Data before hello")
				continue
			}
			p.events.DataReceived.Emit(platform.Inbound{
				Platform: p.ID(),
				LocalID:  c.localID,
				Data:     f.deviceData(),
			})
		case framePing:
			_ = c.write(frame{Type: framePong})
		default:
			p.logger.Debug("Unknown frame type", zap.String("device", c.localID), zap.String("type", f.Type))
		}
	}
}

func (p *Platform) hello(c *conn, f frame) {
	caps := f.Capabilities
	if len(caps) == 0 {
		caps = []types.Capability{types.CapabilityCommunicate}
	}

	p.mu.Lock()
	first := c.localID == ""
	if first {
		c.localID = f.DeviceID
		if c.localID == "" {
			c.localID = id.NewConnectionID().String()
		}
		delete(p.pending, c)
	}
	prev := p.devices[c.localID]
	p.devices[c.localID] = c
	c.obs = types.Observation{
		PlatformID:   p.ID(),
		LocalID:      c.localID,
		Capabilities: caps,
		Name:         f.Name,
		Serial:       f.Serial,
		Token:        f.Token,
		Meta:         f.Meta,
	}
	obs := c.obs
	p.mu.Unlock()

	if prev != nil && prev != c {
		p.logger.Info("Device reconnected, dropping old connection", zap.String("device", c.localID))
		prev.close()
	}
	if first {
		c.startKeepalive(p.cfg)
		p.logger.Info("Device said hello", zap.String("device", c.localID), zap.String("serial", f.Serial))
		p.events.ClientConnected.Emit(obs)
		return
	}
	p.events.ClientUpdated.Emit(obs)
}

func (p *Platform) release(c *conn) {
	p.mu.Lock()
	delete(p.pending, c)
	owned := c.localID != "" && p.devices[c.localID] == c
	if owned {
		delete(p.devices, c.localID)
	}
	p.mu.Unlock()

	c.close()
	if owned {
		p.logger.Info("Device disconnected", zap.String("device", c.localID))
		p.events.ClientDisconnected.Emit(c.localID)
	}
}
