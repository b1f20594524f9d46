package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"websocket-kanban/domain"
)

const (
	closeGoingAway    = websocket.StatusGoingAway
	closeSlowConsumer = websocket.StatusPolicyViolation
)

// client is one authenticated WebSocket connection. The send channel is
// drained by writePump and never closed; done signals teardown instead.
type client struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	hub      *Hub
	logger   *log.Entry

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// guarded by hub.mu
	left bool
}

func newClient(h *Hub, conn *websocket.Conn, id domain.Identity) *client {
	connID := uuid.NewString()
	return &client{
		id:       connID,
		identity: id,
		conn:     conn,
		hub:      h,
		logger: h.logger.WithFields(log.Fields{
			"conn": connID,
			"user": id.UserID,
			"role": id.Role,
		}),
		send: make(chan []byte, h.cfg.ClientBuffer),
		done: make(chan struct{}),
	}
}

// deliver queues a frame without blocking. A client that cannot keep up
// leaves every scope at once and is disconnected in the background; the close
// handshake can stall for a full write timeout on a peer that stopped reading.
func (c *client) deliver(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.logger.WithField("buffer", cap(c.send)).Warn("send buffer full, dropping slow client")
		if c.hub != nil {
			c.hub.leave(c)
		}
		go c.close(closeSlowConsumer, "slow consumer")
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}

// writePump is the only writer on the connection.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.send:
			select {
			case <-c.done:
				return
			default:
			}
			wctx, cancel := context.WithTimeout(ctx, c.hub.cfg.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.WithError(err).Debug("write failed")
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.hub.cfg.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.WithError(err).Debug("ping failed")
				c.close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

// readLoop reads client frames until the connection fails or closes.
func (c *client) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.deliver(errorFrame("binary messages are not supported"))
			continue
		}
		c.hub.handleFrame(ctx, c, data)
	}
}

// serve runs the connection from admission to teardown. It returns once
// both pumps have stopped and the client has left every scope.
func (h *Hub) serve(ctx context.Context, c *client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.admit(ctx, c); err != nil {
		c.logger.WithError(err).Warn("connection not admitted")
		h.leave(c)
		c.close(websocket.StatusTryAgainLater, "server unavailable")
		return
	}
	c.logger.WithField("connections", h.Connections()).Info("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	err := c.readLoop(ctx)
	h.leave(c)
	cancel()
	c.close(websocket.StatusNormalClosure, "")
	wg.Wait()

	entry := c.logger.WithField("connections", h.Connections())
	if status := websocket.CloseStatus(err); status != -1 {
		entry = entry.WithField("status", status.String())
	} else if err != nil && !errors.Is(err, context.Canceled) {
		entry = entry.WithError(err)
	}
	entry.Info("client disconnected")
}
