// Command server runs the backtest replay server: a websocket-facing
// order/market-replay engine plus a small gRPC admin plane, wired the
// way the teacher's cmd/main/main.go wires its pieces (flag-parsed
// config path, signal-based shutdown).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/backtest-replay/server/internal/config"
	"github.com/backtest-replay/server/internal/control"
	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/datasource/pqsource"
	"github.com/backtest-replay/server/internal/datasource/sqlitesource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/timeutil"
	"github.com/backtest-replay/server/internal/transport"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Name)

	var src datasource.Source
	switch cfg.Storage.DBType {
	case "postgres":
		src, err = pqsource.Open(cfg.Storage.DBConnectionString)
	default:
		src, err = sqlitesource.Open(cfg.Storage.DBPath)
	}
	if err != nil {
		appLogger.Critical("failed to open data source: %v", err)
	}
	defer src.Close()

	loc, err := timeutil.LoadLocation(cfg.Storage.Timezone)
	if err != nil {
		appLogger.Critical("invalid storage.timezone %q: %v", cfg.Storage.Timezone, err)
	}
	calendars := timeutil.NewCalendarCache(loc)

	unit := timeutil.EpochUnit(cfg.Storage.EpochUnit)

	httpServer := transport.NewServer(cfg.Host, cfg.Port, src, calendars, unit, loc, appLogger.Named("transport"))
	httpServer.DefaultReplayInterval = time.Duration(cfg.Replay.DefaultReplayIntervalMS) * time.Millisecond

	grpcLog := appLogger.Named("control")
	controlSvc := control.NewService(src, httpServer.Hub(), grpcLog)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&control.ServiceDesc, controlSvc)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := httpServer.Start(); err != nil {
			appLogger.Error("http server stopped: %v", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.GrpcHost, cfg.GrpcPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			appLogger.Error("grpc listen failed on %s: %v", addr, err)
			return
		}
		appLogger.Info("starting grpc control plane on %s", addr)
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("grpc server stopped: %v", err)
		}
	}()

	<-quit
	appLogger.Info("shutting down...")
	grpcServer.GracefulStop()
}
