package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/session"
)

// errEvicted is returned by emit once a connection has been evicted for
// falling behind on its send buffer.
var errEvicted = errors.New("transport: connection evicted, slow consumer")

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
	sendBuffer     = 256
	requestBuffer  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one physical websocket connection. Per spec.md §4.1/§4.2 a
// single connection multiplexes an arbitrary number of logical
// clients (cids), so Client owns exactly one ConnectionSession, one
// Router and one Orchestrator rather than fanning out to per-cid
// sockets. Every frame this connection receives is dispatched on a
// single goroutine (runLoop): readPump only ever enqueues, it never
// dispatches, so a long-running replay and an ordinary request never
// touch the connection's session/broker state concurrently, per
// spec.md §5's single-writer requirement.
type Client struct {
	ID       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan *protocol.Response
	requests chan []byte
	cancel   context.CancelFunc
	evicted  bool

	connSession *session.ConnectionSession
	router      *protocol.Router
}

func newClient(id string, hub *Hub, conn *websocket.Conn, cs *session.ConnectionSession, router *protocol.Router, cancel context.CancelFunc) *Client {
	return &Client{
		ID:          id,
		hub:         hub,
		conn:        conn,
		send:        make(chan *protocol.Response, sendBuffer),
		requests:    make(chan []byte, requestBuffer),
		cancel:      cancel,
		connSession: cs,
		router:      router,
	}
}

// readPump reads frames off the socket and hands them to runLoop via
// c.requests. It never dispatches directly: enqueueing is the only
// thing this goroutine does to connection state, so runLoop remains
// the sole dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		close(c.requests)
		c.cancel()
		c.hub.log.Info("connection closed: %s", c.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Info("websocket error on %s: %v", c.ID, err)
			}
			return
		}
		c.requests <- raw
	}
}

// runLoop is the connection's single dispatch goroutine. It drains
// c.requests directly for ordinary methods; for "replay" it hands the
// same channel to the orchestrator, which keeps draining it between
// batches for the duration of the replay (see replay.Orchestrator.Run
// and Deps.Orchestrator.Requests), so this goroutine is always the
// only one calling into the router.
func (c *Client) runLoop() {
	for raw := range c.requests {
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) *protocol.Response {
	resp := c.router.Dispatch(raw)
	if c.evicted {
		return resp
	}
	select {
	case c.send <- resp:
	default:
		c.evict("send buffer full, dropping result")
	}
	return resp
}

// evict closes the slow consumer's connection the way the teacher's
// hub.go evicts a client whose send channel is full, so a dropped
// response never leaves a silent gap in the id sequence (spec.md:183)
// or a silently-missed order/market event (spec.md:154): the client
// instead sees its socket close. Only ever called from this
// connection's single dispatch goroutine, so no locking is needed.
// Closing conn unblocks readPump's ReadMessage, whose deferred cleanup
// unregisters c and cancels its context.
func (c *Client) evict(reason string) {
	if c.evicted {
		return
	}
	c.evicted = true
	c.hub.log.Warning("evicting slow consumer %s: %s", c.ID, reason)
	close(c.send)
	c.conn.Close()
}

// writePump drains queued responses/events onto the socket, serializing
// every write so a replay's interleaved event stream never races with
// a concurrent request's result frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case resp, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(resp); err != nil {
				c.hub.log.Warning("write error on %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReplayActive reports whether this connection currently holds the
// replay lock, used by the admin control plane's GetActiveReplay RPC.
func (c *Client) ReplayActive() bool {
	return c.connSession.IsReplayActive()
}

// emit satisfies the replay.Orchestrator.Emit signature, pushing an
// event frame onto this connection's write queue. A full buffer evicts
// the connection rather than silently dropping the event, since a
// dropped order/market event would violate spec.md:154's fill-before-
// observation ordering guarantee for that client with no client-visible
// signal.
func (c *Client) emit(resp *protocol.Response) error {
	if c.evicted {
		return errEvicted
	}
	select {
	case c.send <- resp:
		return nil
	default:
		c.evict("send buffer full, dropping event")
		return errEvicted
	}
}
