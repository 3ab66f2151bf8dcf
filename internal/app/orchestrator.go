// Package app wires the pipeline together: feed in, detector gate,
// wallet forensics, scoring, and alert persistence.
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"polywatch/config"
	"polywatch/internal/forensics"
	"polywatch/internal/metrics"
	"polywatch/internal/model"
	"polywatch/internal/scorer"
)

// SignalGate decides whether a trade deserves forensics.
type SignalGate interface {
	Analyze(ctx context.Context, trade model.Trade) *model.TradeSignal
}

// WalletAnalyzer produces the wallet fingerprint for a trade context.
type WalletAnalyzer interface {
	Analyze(ctx context.Context, address string, tc forensics.TradeContext) (*model.WalletFingerprint, error)
}

// AlertSink persists alerts behind the dedup guard.
type AlertSink interface {
	Persist(ctx context.Context, alert *model.Alert) (bool, error)
}

// TradeLog records raw trades for the retention window. Optional.
type TradeLog interface {
	Insert(ctx context.Context, t model.Trade) error
}

// Orchestrator runs the per-trade pipeline over a bounded worker pool.
// A slow or failing trade only stalls its own worker.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       *config.LiveConfig
	gate      SignalGate
	forensics WalletAnalyzer
	sink      AlertSink
	trades    TradeLog

	queue chan model.Trade
	wg    sync.WaitGroup
}

// NewOrchestrator creates the pipeline. trades may be nil.
func NewOrchestrator(logger *zap.Logger, cfg *config.LiveConfig, gate SignalGate, wallets WalletAnalyzer, sink AlertSink, trades TradeLog) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.GetDirect().Pipeline.QueueCapacity
	if capacity <= 0 {
		capacity = 256
	}
	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		gate:      gate,
		forensics: wallets,
		sink:      sink,
		trades:    trades,
		queue:     make(chan model.Trade, capacity),
	}
}

// Enqueue offers a trade to the pipeline. It never blocks the feed: a
// full queue drops the trade and reports false.
func (o *Orchestrator) Enqueue(trade model.Trade) bool {
	select {
	case o.queue <- trade:
		metrics.QueueDepth.Set(float64(len(o.queue)))
		return true
	default:
		o.logger.Warn("pipeline queue full, dropping trade",
			zap.String("tradeId", trade.ID),
			zap.String("marketId", trade.MarketID),
		)
		return false
	}
}

// QueueDepth reports the current backlog.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Run starts the worker pool and blocks until ctx is done and all
// workers have drained.
func (o *Orchestrator) Run(ctx context.Context) {
	workers := o.cfg.GetDirect().Pipeline.WorkerCount
	if workers <= 0 {
		workers = 8
	}
	o.logger.Info("pipeline started", zap.Int("workers", workers), zap.Int("queueCapacity", cap(o.queue)))

	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}

	<-ctx.Done()
	o.wg.Wait()
	o.logger.Info("pipeline stopped")
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-o.queue:
			metrics.QueueDepth.Set(float64(len(o.queue)))
			o.safeProcess(ctx, trade)
		}
	}
}

// safeProcess isolates one trade: a panic or error is logged with the
// trade id and never takes a worker down.
func (o *Orchestrator) safeProcess(ctx context.Context, trade model.Trade) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic processing trade",
				zap.String("tradeId", trade.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := o.Process(ctx, trade); err != nil {
		o.logger.Error("trade processing failed",
			zap.String("tradeId", trade.ID),
			zap.String("marketId", trade.MarketID),
			zap.Error(err),
		)
	}
}

// Process runs one trade through the full pipeline.
func (o *Orchestrator) Process(ctx context.Context, trade model.Trade) error {
	if o.trades != nil {
		if err := o.trades.Insert(ctx, trade); err != nil {
			o.logger.Warn("trade log write failed", zap.String("tradeId", trade.ID), zap.Error(err))
		}
	}

	signal := o.gate.Analyze(ctx, trade)
	if signal == nil {
		return nil
	}

	wallet := trade.Taker
	if wallet == "" {
		wallet = trade.Maker
	}
	if wallet == "" {
		return fmt.Errorf("trade carries no wallet address")
	}

	fp, err := o.forensics.Analyze(ctx, wallet, forensics.TradeContext{
		TradeSizeUSD: signal.TradeUSDValue,
		MarketOI:     signal.OpenInterest,
	})
	if err != nil {
		return fmt.Errorf("wallet forensics: %w", err)
	}

	score := scorer.Score(signal, fp)
	minScore := o.cfg.GetDirect().Scoring.MinWalletScore
	if !scorer.ShouldAlert(score, minScore) {
		o.logger.Info("signal below alert floor",
			zap.String("tradeId", trade.ID),
			zap.String("wallet", wallet),
			zap.Int("score", score.TotalScore),
			zap.String("classification", score.Classification),
		)
		return nil
	}

	alert := &model.Alert{
		TradeID:        trade.ID,
		WalletAddress:  wallet,
		MarketID:       trade.MarketID,
		Side:           trade.Side,
		Size:           trade.Size,
		Price:          trade.Price,
		Outcome:        trade.Outcome,
		TradeTimestamp: trade.Timestamp,

		TradeUSDValue: signal.TradeUSDValue,
		OIPercentage:  signal.OIPercentage,
		PriceImpact:   signal.PriceImpact,
		OpenInterest:  signal.OpenInterest,

		Fingerprint:     *fp,
		Score:           score,
		ConfidenceScore: fp.Confidence.Score,
		Classification:  score.Classification,
	}

	persisted, err := o.sink.Persist(ctx, alert)
	if err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	if persisted {
		o.logger.Info("alert raised",
			zap.String("alertId", alert.ID),
			zap.String("wallet", wallet),
			zap.String("marketId", trade.MarketID),
			zap.Int("score", score.TotalScore),
			zap.String("classification", score.Classification),
		)
	}
	return nil
}
