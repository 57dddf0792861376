package wsplatform

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// conn is one device connection. gorilla/websocket allows one concurrent
// writer, so every write goes through writeMu.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	// Guarded by Platform.mu.
	localID string
	obs     types.Observation
}

func newConn(ws *websocket.Conn, cfg Config) *conn {
	return &conn{ws: ws, writeTimeout: cfg.WriteTimeout, done: make(chan struct{})}
}

func (c *conn) write(f frame) error {
	select {
	case <-c.done:
		return errors.ErrClosed
	default:
	}
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// startKeepalive switches the read deadline from the handshake timeout to
// pong-driven liveness.
func (c *conn) startKeepalive(cfg Config) {
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	go func() {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					c.close()
					return
				}
			}
		}
	}()
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
