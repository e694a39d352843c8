package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onionlab/relaysim/protocol"
)

// Options configures one connection. Zero values fall back to the defaults
// below.
type Options struct {
	Codec             Codec
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int
	Log               *slog.Logger
}

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 15 * time.Second
	defaultSendBuffer        = 32

	writeWait = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = JSON
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Viewers connect from file:// dashboards in the classroom setup.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is an ordered, at-most-once-per-send message channel over a websocket
// connection. A single writer goroutine owns all writes; inbound envelopes
// are delivered on Inbox in arrival order. Heartbeats are exchanged as
// envelopes and never reach the inbox; missing them beyond the timeout
// closes the connection.
type Conn struct {
	ws   *websocket.Conn
	opts Options
	log  *slog.Logger

	sendCh chan *protocol.Envelope
	inbox  chan *protocol.Envelope

	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// New wraps an established websocket connection and starts its read and
// write pumps.
func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:     ws,
		opts:   opts,
		log:    opts.Log.With("remote", ws.RemoteAddr().String(), "codec", opts.Codec.Name()),
		sendCh: make(chan *protocol.Envelope, opts.SendBuffer),
		inbox:  make(chan *protocol.Envelope, opts.SendBuffer),
		done:   make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Dial connects to a coordinator endpoint and wraps the connection.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return New(ws, opts), nil
}

// Upgrade accepts an inbound websocket connection and wraps it.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return New(ws, opts), nil
}

// Send queues an envelope for delivery. It fails once the connection is
// closed; there is no replay, callers needing delivery confirmation must
// implement their own retry.
func (c *Conn) Send(env *protocol.Envelope) error {
	select {
	case <-c.done:
		return c.Err()
	case c.sendCh <- env:
		return nil
	}
}

// Send seals a payload into an envelope with the connection's codec and
// queues it.
func Send[T any](c *Conn, typ protocol.MessageType, payload *T) error {
	env, err := Seal(c.opts.Codec, typ, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Inbox delivers inbound envelopes in arrival order. It is closed when the
// connection dies; Err then reports why.
func (c *Conn) Inbox() <-chan *protocol.Envelope { return c.inbox }

// Done is closed when the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the close reason, nil before the connection closed.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Codec returns the connection's wire codec.
func (c *Conn) Codec() Codec { return c.opts.Codec }

// RemoteAddr identifies the peer for logging.
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Close shuts the connection down. Idempotent.
func (c *Conn) Close() error {
	c.fail(protocol.ErrAgentDisconnected)
	return nil
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.sendCh:
			if err := c.write(env); err != nil {
				c.fail(fmt.Errorf("%w: write: %v", protocol.ErrAgentDisconnected, err))
				return
			}
		case <-ticker.C:
			hb, err := Seal(c.opts.Codec, protocol.MsgHeartbeat, &protocol.Heartbeat{})
			if err != nil {
				continue
			}
			if err := c.write(hb); err != nil {
				c.fail(fmt.Errorf("%w: heartbeat write: %v", protocol.ErrAgentDisconnected, err))
				return
			}
		}
	}
}

func (c *Conn) write(env *protocol.Envelope) error {
	data, err := c.opts.Codec.Marshal(env)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(c.opts.Codec.FrameType(), data)
}

func (c *Conn) readPump() {
	defer close(c.inbox)

	for {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.HeartbeatTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.fail(fmt.Errorf("%w: heartbeat timeout after %s", protocol.ErrAgentDisconnected, c.opts.HeartbeatTimeout))
			} else {
				c.fail(fmt.Errorf("%w: %v", protocol.ErrAgentDisconnected, err))
			}
			return
		}

		var env protocol.Envelope
		if err := c.opts.Codec.Unmarshal(data, &env); err != nil {
			c.log.Warn("Dropping undecodable frame", "err", err)
			continue
		}

		// Heartbeats only refresh the read deadline.
		if env.Type == protocol.MsgHeartbeat {
			continue
		}

		select {
		case <-c.done:
			return
		case c.inbox <- &env:
		}
	}
}
