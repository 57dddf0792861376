package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ThingHost/backend/internal/api/ws"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/identity"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/progress"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/protocol"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/store"
	"github.com/GriffinCanCode/ThingHost/backend/internal/platforms/adbplatform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/platforms/wsplatform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"

	api "github.com/GriffinCanCode/ThingHost/backend/internal/api/http"
)

// DevicePath serves device connections on the API port when the network
// platform has no listen address of its own.
const DevicePath = "/devices"

// Server wires the runtime together and serves the HTTP API.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	layout  paths.Layout

	bus        *progress.Bus
	supervisor *supervisor.Supervisor
	apps       *registry.Manager
	engine     *identity.Engine
	platforms  *platform.Registry
	network    *wsplatform.Platform
	hub        *ws.Hub
	bridge     *Bridge

	router  *gin.Engine
	handler http.Handler
	http    *http.Server
	unsubs  []func()
}

// New builds every component from cfg. Nothing is started until Start.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing ThingHost server",
		zap.String("port", cfg.Server.Port),
		zap.String("apps_dir", cfg.Apps.Dir),
		zap.String("data_dir", cfg.Apps.DataDir),
		zap.String("version", cfg.Apps.ServerVersion),
	)

	metrics := monitoring.NewMetrics()
	layout := paths.New(cfg.Apps.Dir, cfg.Apps.DataDir)

	bus := progress.NewBus(logger.Component("progress")).WithMetrics(metrics)

	codec := protocol.NewCodec(cfg.Apps.ServerVersion, cfg.Apps.ProtocolFloor)
	loaders := map[string]supervisor.Loader{
		supervisor.RuntimeExec:   supervisor.NewExecLoader(),
		supervisor.RuntimeScript: supervisor.NewScriptLoader(),
	}
	sup := supervisor.New(supervisor.NewDirResolver(layout.AppsDir, layout.DataDir), loaders, codec, logger).
		WithMetrics(metrics)

	apps := registry.NewManager(sup, store.NewFileStore(layout.DataDir), registry.Options{
		DisableGrace:    cfg.Apps.DisableGrace.Duration,
		PurgeGrace:      cfg.Apps.PurgeGrace.Duration,
		PersistDebounce: cfg.Apps.PersistDebounce.Duration,
		ServerVersion:   cfg.Apps.ServerVersion,
	}, logger.Component("registry")).WithMetrics(metrics)

	engine := identity.NewEngine(nil, logger.Component("identity")).WithMetrics(metrics)
	platforms := platform.NewRegistry(engine, bus, logger.Component("platforms")).WithMetrics(metrics)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		layout:     layout,
		bus:        bus,
		supervisor: sup,
		apps:       apps,
		engine:     engine,
		platforms:  platforms,
		hub:        ws.NewHub(logger.Component("stream")).WithMetrics(metrics),
	}
	s.bridge = NewBridge(sup, platforms, logger.Component("bridge"))

	if err := s.registerPlatforms(); err != nil {
		sup.Close()
		apps.Close()
		return nil, err
	}
	s.follow()
	s.routes()

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) registerPlatforms() error {
	if s.cfg.Platforms.WebSocketEnabled {
		s.network = wsplatform.New(wsplatform.DefaultConfig(), s.logger.Component("websocket"))
		if err := s.platforms.Register(s.network); err != nil {
			return fmt.Errorf("failed to register websocket platform: %w", err)
		}
	}
	if s.cfg.Platforms.ADBEnabled {
		runner := adbplatform.ExecRunner{Binary: s.cfg.Platforms.ADBBinary}
		adb := adbplatform.New(runner, s.cfg.Platforms.ADBPollInterval.Duration, s.logger.Component("adb"))
		if err := s.platforms.Register(adb); err != nil {
			return fmt.Errorf("failed to register adb platform: %w", err)
		}
	}
	return nil
}

func (s *Server) follow() {
	s.unsubs = append(s.unsubs,
		s.apps.OnData(s.bridge.FromApp),
		s.platforms.OnData(s.bridge.FromDevice),
		s.platforms.OnError(func(err error) {
			s.logger.Warn("Platform error", zap.Error(err))
		}),
		s.hub.Follow(ws.Sources{
			Progress:           s.bus.Subscribe,
			ClientConnected:    s.platforms.OnClientConnected,
			ClientUpdated:      s.platforms.OnClientUpdated,
			ClientDisconnected: s.platforms.OnClientDisconnected,
			Apps:               s.apps.OnChange,
			AppData:            s.apps.OnData,
		}),
	)
}

func (s *Server) routes() {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	httpLog := s.logger.Component("http")

	router.Use(middleware.Recovery(httpLog))
	router.Use(middleware.RequestLog(httpLog))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Handshakes share one process-wide budget on top of the per-IP one.
	handshakes := []gin.HandlerFunc{}
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = s.cfg.RateLimit.RequestsPerSecond
		limits.Burst = s.cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
		handshakes = append(handshakes, middleware.GlobalRateLimit(limits))
	}

	handlers := api.NewHandlers(s.apps, s.platforms, s.bus, s.cfg.Apps.ServerVersion, httpLog)
	handlers.Register(router)

	router.GET("/stream", append(handshakes, s.hub.HandleConnection)...)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.network != nil && s.cfg.Platforms.WebSocketAddr == "" {
		router.GET(DevicePath, append(handshakes, gin.WrapH(s.network.Handler()))...)
	}

	// Upgraded connections must not pass through the gzip writer.
	compressed := gzhttp.GzipHandler(router)
	s.router = router
	s.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgrade(r) {
			router.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Apps returns the app registry.
func (s *Server) Apps() *registry.Manager {
	return s.apps
}

// Platforms returns the platform registry.
func (s *Server) Platforms() *platform.Registry {
	return s.platforms
}

// Start loads the app list, registers app directories not yet known,
// autostarts enabled apps and starts the device platforms. A platform that
// fails to start is logged and does not stop the server.
func (s *Server) Start(ctx context.Context) error {
	if err := s.layout.Ensure(); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	boot := s.bus.Start(types.ChannelServerStart, "start", "Starting")
	if err := s.apps.Load(ctx); err != nil {
		boot.Error(err, "Failed to load apps")
		return err
	}
	boot.Update(25, "Apps loaded")

	if err := s.discover(); err != nil {
		s.logger.Warn("App discovery failed", zap.Error(err))
	}
	boot.Update(50, "Apps discovered")

	if s.cfg.Apps.Autostart {
		n := s.apps.Autostart(ctx)
		s.logger.Info("Autostarted apps", zap.Int("count", n))
	}
	boot.Update(75, "Apps started")

	if err := s.platforms.Start(ctx, s.platformOptions()); err != nil {
		s.logger.Warn("Some platforms failed to start", zap.Error(err))
	}
	boot.Complete("Running")
	return nil
}

func (s *Server) discover() error {
	names, err := discoverApps(s.layout.AppsDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := s.apps.Get(name); ok {
			continue
		}
		s.apps.Add(types.App{Name: name})
	}
	return nil
}

func (s *Server) platformOptions() map[types.PlatformID]platform.Options {
	return map[types.PlatformID]platform.Options{
		types.PlatformWebSocket: {Address: s.cfg.Platforms.WebSocketAddr},
	}
}

// Run starts the runtime, serves the API until ctx is cancelled and then
// shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Close stops the HTTP server, the platforms and every app, then flushes
// pending writes.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to shut down http server: %w", err)
		}
	}
	if err := s.platforms.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.hub.Close()
	s.supervisor.Close()
	s.apps.Close()

	_ = s.logger.Sync()
	return firstErr
}
