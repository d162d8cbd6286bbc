package session

import (
	"errors"
	"time"

	"github.com/backtest-replay/server/internal/timeutil"
)

// ErrReplayActive is returned by Login while a replay is in flight
// (spec.md §4.4: "login during an active replay is rejected").
var ErrReplayActive = errors.New("session: replay active")

// ErrReplayAlreadyActive is returned by StartReplay when the connection
// already has a live replay.
var ErrReplayAlreadyActive = errors.New("session: replay already active")

// ConnectionSession is the per-transport client map and active-replay
// flag of spec.md §3/Component F, generalized from the teacher's
// MultiSourceManager's map+insertion-order-index discipline
// (src/data_source/multi_source_manager.go).
type ConnectionSession struct {
	clients     map[string]*ClientSession
	clientOrder []string

	activeReplayID string

	EpochUnit timeutil.EpochUnit
	Location  *time.Location
}

// NewConnectionSession returns an empty ConnectionSession using the given wire time
// representation (epoch unit and timezone).
func NewConnectionSession(unit timeutil.EpochUnit, loc *time.Location) *ConnectionSession {
	return &ConnectionSession{
		clients:   make(map[string]*ClientSession),
		EpochUnit: unit,
		Location:  loc,
	}
}

// Login registers cs under cid, replacing any prior session for the
// same cid. Rejected while a replay is active.
func (c *ConnectionSession) Login(cs *ClientSession) error {
	if c.activeReplayID != "" {
		return ErrReplayActive
	}
	if _, exists := c.clients[cs.CID]; !exists {
		c.clientOrder = append(c.clientOrder, cs.CID)
	}
	c.clients[cs.CID] = cs
	return nil
}

// Logout removes cid's session, if any.
func (c *ConnectionSession) Logout(cid string) {
	if _, ok := c.clients[cid]; !ok {
		return
	}
	delete(c.clients, cid)
	for i, id := range c.clientOrder {
		if id == cid {
			c.clientOrder = append(c.clientOrder[:i], c.clientOrder[i+1:]...)
			break
		}
	}
}

// Get looks up a client session by cid.
func (c *ConnectionSession) Get(cid string) (*ClientSession, bool) {
	s, ok := c.clients[cid]
	return s, ok
}

// Clients returns every live client session, in login order.
func (c *ConnectionSession) Clients() []*ClientSession {
	out := make([]*ClientSession, 0, len(c.clientOrder))
	for _, id := range c.clientOrder {
		out = append(out, c.clients[id])
	}
	return out
}

// StartReplay marks a replay active under replayID, failing if one is
// already running on this connection.
func (c *ConnectionSession) StartReplay(replayID string) error {
	if c.activeReplayID != "" {
		return ErrReplayAlreadyActive
	}
	c.activeReplayID = replayID
	return nil
}

// EndReplay clears the active-replay flag; safe to call unconditionally
// as part of cleanup.
func (c *ConnectionSession) EndReplay() {
	c.activeReplayID = ""
}

// IsReplayActive reports whether a replay is currently running.
func (c *ConnectionSession) IsReplayActive() bool {
	return c.activeReplayID != ""
}
