package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"otcdesk/config"
	"otcdesk/core/events"
	coretypes "otcdesk/core/types"
	"otcdesk/native/otc"
	"otcdesk/observability"
	"otcdesk/observability/logging"
	"otcdesk/rpc"
	"otcdesk/state"
	"otcdesk/storage"
)

// eventRecorder bridges engine events into structured logs and metrics.
type eventRecorder struct{}

func (eventRecorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Desk().RecordEvent(evt.EventType())
	typed, ok := evt.(*coretypes.Event)
	if !ok {
		return
	}
	args := make([]any, 0, 2*len(typed.Attributes)+2)
	args = append(args, "type", typed.Type)
	for key, value := range typed.Attributes {
		args = append(args, key, value)
	}
	slog.Default().Info("engine event", args...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OTCDESK_ENV"))
	logger := logging.Setup("otcdeskd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "desk"))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	engine := otc.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(eventRecorder{})
	engine.SetIndexLimits(cfg.OpenOfferCap, cfg.CleanupGraceSecs)
	engine.Oracle().SetMaxAges(cfg.MaxPriceAgeSecs, cfg.ManualPriceMaxAgeSecs)
	engine.Oracle().SetManualEnabled(cfg.ManualPricesEnabled)

	server := rpc.NewServer(engine, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("rpc server listening", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
