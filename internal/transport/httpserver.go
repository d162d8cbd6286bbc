package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/handlers"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/replay"
	"github.com/backtest-replay/server/internal/session"
	"github.com/backtest-replay/server/internal/timeutil"
)

// Server hosts the /ws upgrade endpoint and a small set of ambient
// health routes over gin, grounded on the teacher's
// src/server/fastAPI.go. Unlike the teacher's single shared-state hub,
// every accepted connection gets its own ConnectionSession, Router and
// Orchestrator, since each one multiplexes its own set of logical
// clients per spec.md §4.1.
type Server struct {
	Host string
	Port int

	Source    datasource.Source
	Calendars *timeutil.CalendarCache
	Unit      timeutil.EpochUnit
	Loc       *time.Location
	Log       *logger.Logger

	// DefaultReplayInterval paces a replay that requests no explicit
	// interval of its own, per the server's configured
	// replay.default_replay_interval_ms.
	DefaultReplayInterval time.Duration

	engine     *gin.Engine
	hub        *Hub
	nextConnID int64
}

// NewServer wires the gin engine and its routes.
func NewServer(host string, port int, src datasource.Source, calendars *timeutil.CalendarCache, unit timeutil.EpochUnit, loc *time.Location, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		Host:      host,
		Port:      port,
		Source:    src,
		Calendars: calendars,
		Unit:      unit,
		Loc:       loc,
		Log:       log,
		engine:    gin.Default(),
		hub:       NewHub(log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/ws", s.handleWebSocket)
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":      "ok",
		"connections": len(s.hub.IDs()),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warning("failed to upgrade websocket: %v", err)
		return
	}

	id := fmt.Sprintf("conn-%d", atomic.AddInt64(&s.nextConnID, 1))

	ctx, cancel := context.WithCancel(context.Background())

	connSession := session.NewConnectionSession(s.Unit, s.Loc)
	router := protocol.NewRouter(func(cid string) bool { _, ok := connSession.Get(cid); return ok })
	codec := protocol.Codec{Unit: s.Unit, Loc: s.Loc}

	client := newClient(id, s.hub, conn, connSession, router, cancel)

	orchestrator := &replay.Orchestrator{
		Source:                s.Source,
		Conn:                  connSession,
		Codec:                 codec,
		Emit:                  client.emit,
		Requests:              client.requests,
		Dispatch:              router.Dispatch,
		DefaultReplayInterval: s.DefaultReplayInterval,
	}

	handlers.RegisterAll(router, &handlers.Deps{
		Ctx:          ctx,
		Conn:         connSession,
		Codec:        codec,
		Calendars:    s.Calendars,
		Orchestrator: orchestrator,
		Log:          s.Log.Named(id),
	})

	s.hub.register(client)

	go client.writePump()
	go client.runLoop()
	go client.readPump()
}

// Start blocks serving HTTP on Host:Port.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	s.Log.Info("starting server on %s", addr)
	return s.engine.Run(addr)
}

// Hub exposes the connection registry to the admin control plane.
func (s *Server) Hub() *Hub { return s.hub }

// engineForTest exposes the gin engine to package-internal tests that
// need to drive it through httptest.NewServer without opening a real
// TCP listener via Start.
func (s *Server) engineForTest() http.Handler { return s.engine }
