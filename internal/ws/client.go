package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nxtg-forge/termbridge/internal/protocol"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	closeGracePeriod = time.Second
	sendQueueSize    = 256

	DefaultMaxMessageBytes = 64 * 1024
)

// ClientOptions bounds what a single connection may do.
type ClientOptions struct {
	MaxMessageBytes int64
	// Inbound messages per second and burst.
	RateLimit float64
	RateBurst int
}

// Client is one WebSocket connection. It implements sessions.Socket:
// outbound messages go through a bounded queue drained by WritePump, so
// Send never blocks the session.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan protocol.ServerMessage
	limiter *rate.Limiter
	opts    ClientOptions
	log     zerolog.Logger

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string

	readDone  chan struct{}
	writeDone chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, opts ClientOptions, log zerolog.Logger) *Client {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	id := uuid.New().String()
	return &Client{
		id:        id,
		conn:      conn,
		send:      make(chan protocol.ServerMessage, sendQueueSize),
		limiter:   rate.NewLimiter(limit, opts.RateBurst),
		opts:      opts,
		log:       log.With().Str("socket", id).Logger(),
		closing:   make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues msg. A client whose queue is full is a slow consumer: it is
// closed with CloseSlowConsumer and the message is dropped.
func (c *Client) Send(msg protocol.ServerMessage) bool {
	select {
	case <-c.closing:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn().Msg("send queue full, dropping slow client")
		c.Close(protocol.CloseSlowConsumer, "slow consumer")
		return false
	}
}

// Close asks WritePump to flush queued messages, send a close frame with
// code and reason, and shut the connection. Only the first call counts.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

// Done is closed once the connection is fully shut.
func (c *Client) Done() <-chan struct{} {
	return c.writeDone
}

// ReadPump reads client frames until the connection fails or is closed,
// calling handle for each valid message in order. Text frames carry JSON
// messages; binary frames are raw terminal input.
func (c *Client) ReadPump(handle func(protocol.ClientMessage)) {
	defer close(c.readDone)

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			c.Close(websocket.CloseAbnormalClosure, "connection lost")
			return
		}

		select {
		case <-c.closing:
			// Draining until the peer acknowledges our close frame.
			continue
		default:
		}
		if handle == nil {
			continue
		}

		if !c.limiter.Allow() {
			c.log.Warn().Msg("inbound rate limit exceeded")
			c.Close(protocol.CloseRateLimited, "rate limited")
			continue
		}

		var msg protocol.ClientMessage
		switch messageType {
		case websocket.BinaryMessage:
			msg = protocol.ClientMessage{Type: protocol.TypeInput, Data: string(data)}
		case websocket.TextMessage:
			msg, err = protocol.DecodeClient(data)
			if err != nil {
				c.Send(protocol.Error(protocol.ErrCodeBadMessage, err.Error()))
				continue
			}
		default:
			continue
		}
		handle(msg)
	}
}

// WritePump writes queued messages and keepalive pings until Close.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.closing:
			c.shutdown()
			return
		}
	}
}

func (c *Client) write(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// shutdown flushes what is queued (unless the client is the reason the
// queue is full), sends the close frame and waits briefly for the peer.
func (c *Client) shutdown() {
	if c.closeCode != protocol.CloseSlowConsumer {
	flush:
		for {
			select {
			case msg := <-c.send:
				if err := c.write(msg); err != nil {
					return
				}
			default:
				break flush
			}
		}
	}

	// 1006 is never sent on the wire; it marks a connection that is gone.
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	frame := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait)); err != nil {
		return
	}

	select {
	case <-c.readDone:
	case <-time.After(closeGracePeriod):
	}
}
