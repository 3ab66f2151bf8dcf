package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	clts "polywatch/clients"
	"polywatch/config"
	"polywatch/internal/detector"
	"polywatch/internal/forensics"
	"polywatch/internal/registry"
	"polywatch/internal/store"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner owns the full service: registry refresh, the trade feed, the
// detection pipeline, alert persistence, and the ops HTTP endpoint.
type Runner struct {
	logger  *zap.Logger
	cfg     *config.LiveConfig
	clients *clts.Clients
	redis   *store.Redis

	registry     *registry.Registry
	orchestrator *Orchestrator
	refresher    *Refresher
	wsFeed       *WSFeed
	pollFeed     *PollFeed
	health       *HealthReporter
	sweeper      *RetentionSweeper

	opsServer *http.Server
	startTime time.Time
}

// NewRunner wires the pipeline. db and redis must be connected.
func NewRunner(logger *zap.Logger, cfg *config.LiveConfig, clients *clts.Clients, db *sqlx.DB, redis *store.Redis) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := registry.New(logger)
	marketRepo := store.NewMarketRepo(db)
	tradeRepo := store.NewTradeRepo(db)
	alertRepo := store.NewAlertRepo(db)

	gate := detector.New(logger, cfg, reg, clients.Gamma)
	wallets := forensics.New(logger, cfg, clients.Data, clients.Subgraph, nil, redis)
	writer := store.NewAlertWriter(logger, cfg, alertRepo, redis, clients.Notifier)

	r := &Runner{
		logger:    logger,
		cfg:       cfg,
		clients:   clients,
		redis:     redis,
		registry:  reg,
		sweeper:   NewRetentionSweeper(logger, cfg, tradeRepo, alertRepo),
		startTime: time.Now(),
	}

	r.orchestrator = NewOrchestrator(logger, cfg, gate, wallets, writer, tradeRepo)
	r.refresher = NewRefresher(logger, cfg, clients.Gamma, reg, marketRepo)

	if clients.MarketWS != nil {
		r.wsFeed = NewWSFeed(logger, clients.MarketWS, r.refresher, r.orchestrator)
	} else {
		r.pollFeed = NewPollFeed(logger, cfg, clients.Data, reg, r.orchestrator)
	}

	r.health = NewHealthReporter(logger, cfg, redis, clients.Breakers, r.snapshot, r.walletStats)

	return r
}

func (r *Runner) walletStats(ctx context.Context) map[string]int64 {
	stats, err := r.redis.Stats(ctx, "cache_hit", "computed", "suspicious", "errors")
	if err != nil {
		r.logger.Debug("wallet stats unavailable", zap.Error(err))
		return nil
	}
	return stats
}

func (r *Runner) snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		QueueDepth: r.orchestrator.QueueDepth(),
		Markets:    r.registry.Len(),
	}
	if r.wsFeed != nil {
		stats := r.wsFeed.Stats()
		snap.FeedMessages = stats.MessageCount
		if !stats.LastMessageAt.IsZero() {
			snap.FeedLastAt = stats.LastMessageAt.UTC().Format(time.RFC3339)
		}
	}
	return snap
}

// Run loads the market set, starts every loop, and blocks until ctx is
// done and the pipeline has drained.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting",
		zap.String("commit", BuildCommit),
		zap.String("buildTime", BuildTime),
	)

	if err := r.refresher.RefreshOnce(ctx); err != nil {
		return fmt.Errorf("initial market refresh: %w", err)
	}

	r.startOpsServer()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(r.refresher.Run)
	run(r.health.Run)
	run(r.sweeper.Run)
	if r.wsFeed != nil {
		run(r.wsFeed.Run)
	} else {
		run(r.pollFeed.Run)
	}

	r.orchestrator.Run(ctx)
	wg.Wait()

	r.shutdownOpsServer()
	r.logger.Info("stopped")
	return nil
}

// startOpsServer serves Prometheus metrics and a liveness snapshot.
func (r *Runner) startOpsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		snap := r.snapshot()
		snap.Timestamp = time.Now().UTC()
		snap.UptimeSeconds = int64(time.Since(r.startTime).Seconds())
		if r.clients.Breakers != nil {
			snap.Breakers = r.clients.Breakers.States()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			r.logger.Warn("healthz encode failed", zap.Error(err))
		}
	})

	r.opsServer = &http.Server{
		Addr:              ":9090",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

func (r *Runner) shutdownOpsServer() {
	if r.opsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opsServer.Shutdown(ctx); err != nil {
		r.logger.Warn("ops server shutdown failed", zap.Error(err))
	}
}
