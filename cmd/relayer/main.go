package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/relaygate/internal/config"
	"github.com/GoPolymarket/relaygate/internal/handler"
	"github.com/GoPolymarket/relaygate/internal/manager"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/proof"
	"github.com/GoPolymarket/relaygate/internal/scheduler"
	"github.com/GoPolymarket/relaygate/internal/service"
	"github.com/GoPolymarket/relaygate/internal/watcher"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 2*time.Minute + 10*time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 2. Initialize Persistence
	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// 3. Connect Domains
	registry, timeouts, err := buildRegistry(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect domains: %v", err)
	}
	routes, err := buildRoutes(cfg)
	if err != nil {
		log.Fatalf("Invalid routes: %v", err)
	}

	// 4. Initialize Core Services
	hub := notify.NewHub(256)
	publishers := notify.Multi{hub}
	var kafkaPub *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kafkaPub)
		logger.Info("Publishing status events to Kafka", "topic", cfg.Kafka.Topic)
	}

	var beacon proof.BeaconSource
	if cfg.Beacon.URL != "" {
		beacon = proof.NewHTTPBeaconSource(cfg.Beacon.URL, cfg.Beacon.Timeout)
	}

	pricer := service.NewPricer(cfg.Pricing.AllowedDestinations, cfg.Pricing.MinSpreadBps)
	fills := service.NewFillCoordinator(registry, st.orders, manager.NewDomainLocks(), pricer, publishers, timeouts)
	forwarder := service.NewSettlementForwarder(registry, st.orders, routes, beacon, publishers, timeouts)
	settler := service.NewSettler(registry, st.orders, publishers, timeouts)

	// 5. Schedule Tasks
	sched := scheduler.New(ctx)
	opts := watcher.Options{
		LogRetryMax:     cfg.Watcher.LogRetryMax,
		LogRetryBackoff: cfg.Watcher.LogRetryBackoff,
		PartialHold:     cfg.Watcher.PartialHold,
	}
	for _, client := range registry.All() {
		for _, w := range []*watcher.Watcher{
			watcher.New(client, model.EventOpened, st.cursors, fills.HandleOpened, opts),
			watcher.New(client, model.EventFilled, st.cursors, fills.HandleFilled, opts),
		} {
			if err := sched.Add(w.Name(), cfg.Schedule.Watchers, w.Poll); err != nil {
				log.Fatalf("Failed to schedule watcher: %v", err)
			}
		}
	}
	if err := sched.Add("fill_retry", cfg.Schedule.Watchers, fills.RetryPending); err != nil {
		log.Fatalf("Failed to schedule fill retry: %v", err)
	}
	if err := sched.Add("forward_settle", cfg.Schedule.ForwardSettle, forwarder.ForwardSweep); err != nil {
		log.Fatalf("Failed to schedule forward sweep: %v", err)
	}
	if err := sched.Add("settle", cfg.Schedule.Settle, settler.SettleSweep); err != nil {
		log.Fatalf("Failed to schedule settle sweep: %v", err)
	}
	sched.Start()

	// 6. Start Ops Server
	var srv *http.Server
	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		srv = &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: handler.NewRouter(cfg, st.orders, registry, hub),
		}
		go func() {
			logger.Info("Ops API listening", "port", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server listen failed: %v", err)
			}
		}()
	}
	logger.Info("RelayGate started", "domains", len(cfg.Domains), "routes", len(routes))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	// Running ticks see a cancelled context and stop picking up new work;
	// transactions already sent are still awaited up to their timeout.
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Tasks still running at shutdown deadline")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Warn("Failed to close Kafka writer", "error", err)
		}
	}
	logger.Info("RelayGate exiting")
}
