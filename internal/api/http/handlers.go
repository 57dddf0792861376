package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/domain/platform"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/utils"
)

// Apps is the part of the app registry the API drives.
type Apps interface {
	List() []types.App
	Get(name string) (types.App, bool)
	Enable(name string) bool
	Disable(ctx context.Context, name string) bool
	Start(ctx context.Context, name string) bool
	Stop(name string) bool
	Purge(ctx context.Context, name string) bool
	Reorder(names []string) bool
	Move(name string, index int) bool
}

// Platforms is the part of the platform registry the API drives.
type Platforms interface {
	List() []platform.Info
	Clients() []types.Client
	SendData(ctx context.Context, clientID string, data types.DeviceData, required ...types.Capability) bool
	UpdateClient(clientID string, patch types.ClientPatch) bool
	RefreshClients(ctx context.Context) bool
}

// Progress exposes the latest state of the progress channels.
type Progress interface {
	Get(channel types.ProgressChannel) (types.ProgressEvent, bool)
	Snapshot() []types.ProgressEvent
}

// Handlers contains all HTTP handlers
type Handlers struct {
	apps      Apps
	platforms Platforms
	progress  Progress
	version   string
	started   time.Time
	logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(apps Apps, platforms Platforms, progress Progress, version string, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		apps:      apps,
		platforms: platforms,
		progress:  progress,
		version:   version,
		started:   time.Now(),
		logger:    logger,
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	apps := r.Group("/apps")
	apps.GET("", h.ListApps)
	apps.POST("/order", h.OrderApps)
	apps.POST("/:name/enable", h.appAction(h.enable))
	apps.POST("/:name/disable", h.appAction(h.apps.Disable))
	apps.POST("/:name/start", h.appAction(h.apps.Start))
	apps.POST("/:name/stop", h.appAction(h.stop))
	apps.DELETE("/:name", h.appAction(h.apps.Purge))

	clients := r.Group("/clients")
	clients.GET("", h.ListClients)
	clients.PATCH("/:id", h.UpdateClient)
	clients.POST("/:id/send", h.SendToClient)

	r.GET("/platforms", h.ListPlatforms)
	r.POST("/platforms/refresh", h.RefreshPlatforms)

	r.GET("/progress", h.ListProgress)
	r.GET("/progress/:channel", h.GetProgress)
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	running := 0
	apps := h.apps.List()
	for _, a := range apps {
		if a.Running {
			running++
		}
	}
	connected := 0
	for _, cl := range h.platforms.Clients() {
		if cl.ConnectionState != types.StateDisconnected {
			connected++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   h.version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"apps":      gin.H{"installed": len(apps), "running": running},
		"clients":   gin.H{"connected": connected},
		"platforms": h.platforms.List(),
	})
}

// ListApps returns the installed apps in display order.
func (h *Handlers) ListApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apps": h.apps.List()})
}

type orderRequest struct {
	Names []string `json:"names"`
	Name  string   `json:"name"`
	Index *int     `json:"index"`
}

// OrderApps applies a full ordering ({"names": [...]}) or moves one app
// ({"name": "x", "index": 2}).
func (h *Handlers) OrderApps(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request"})
		return
	}

	var ok bool
	switch {
	case len(req.Names) > 0:
		ok = h.apps.Reorder(req.Names)
	case req.Name != "" && req.Index != nil:
		ok = h.apps.Move(req.Name, *req.Index)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "names or name and index required"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order rejected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": h.apps.List()})
}

func (h *Handlers) enable(_ context.Context, name string) bool { return h.apps.Enable(name) }
func (h *Handlers) stop(_ context.Context, name string) bool   { return h.apps.Stop(name) }

// appAction wraps a per-app operation with name validation and a 404 for
// unknown apps.
func (h *Handlers) appAction(op func(context.Context, string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := paths.ValidateAppName(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := h.apps.Get(name); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "app not found", "app": name})
			return
		}

		success := op(c.Request.Context(), name)
		app, _ := h.apps.Get(name)
		c.JSON(http.StatusOK, gin.H{
			"success": success,
			"app":     name,
			"state":   app,
		})
	}
}

// ListClients returns every known client.
func (h *Handlers) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.platforms.Clients()})
}

type sendRequest struct {
	App          string             `json:"app" binding:"required"`
	Type         string             `json:"type" binding:"required"`
	Request      string             `json:"request"`
	Payload      any                `json:"payload"`
	Capabilities []types.Capability `json:"capabilities"`
}

// SendToClient routes data to a client. A 503 means no provider could
// take it right now and the caller may retry.
func (h *Handlers) SendToClient(c *gin.Context) {
	clientID := c.Param("id")
	if err := utils.ValidateID(clientID, "client_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "app and type are required"})
		return
	}
	if err := utils.ValidateString(req.Type, "type", 1, utils.MaxTypeLength, true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidatePayload(req.Payload); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	data := types.DeviceData{App: req.App, Type: req.Type, Request: req.Request, Payload: req.Payload}
	if !h.platforms.SendData(c.Request.Context(), clientID, data, req.Capabilities...) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "no provider could deliver to client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UpdateClient patches a client's name or metadata.
func (h *Handlers) UpdateClient(c *gin.Context) {
	clientID := c.Param("id")
	if err := utils.ValidateID(clientID, "client_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var patch types.ClientPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patch"})
		return
	}
	if patch.Name != nil {
		if err := utils.ValidateString(*patch.Name, "name", 1, utils.MaxNameLength, true); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if !h.platforms.UpdateClient(clientID, patch) {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListPlatforms describes the registered transports.
func (h *Handlers) ListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": h.platforms.List()})
}

// RefreshPlatforms re-reads every running platform's device list.
func (h *Handlers) RefreshPlatforms(c *gin.Context) {
	ok := h.platforms.RefreshClients(c.Request.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"success": ok, "clients": h.platforms.Clients()})
}

// ListProgress returns the latest event of every channel.
func (h *Handlers) ListProgress(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"progress": h.progress.Snapshot()})
}

// GetProgress returns the latest event of one channel.
func (h *Handlers) GetProgress(c *gin.Context) {
	channel := types.ProgressChannel(c.Param("channel"))
	ev, ok := h.progress.Get(channel)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress on channel", "channel": channel})
		return
	}
	c.JSON(http.StatusOK, ev)
}
