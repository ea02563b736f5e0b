package liquidator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"airlend/observability"
)

// Runner drives the bot on a fixed interval, scanning every collateral asset
// in windows of ScanLimit holders. It stands in for an external upkeep
// scheduler when the protocol runs as a single daemon.
type Runner struct {
	bot      *Bot
	interval time.Duration
	limit    int
	log      *slog.Logger
	metrics  *observability.LiquidatorMetrics
}

// NewRunner constructs a runner ticking every interval with the given scan
// window size.
func NewRunner(bot *Bot, interval time.Duration, limit int, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		bot:      bot,
		interval: interval,
		limit:    limit,
		log:      log.With(slog.String("component", "liquidator")),
		metrics:  observability.Liquidator(),
	}
}

// Run blocks until ctx is cancelled, executing one full scan per tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("liquidator started", slog.Duration("interval", r.interval), slog.Int("scan_limit", r.limit))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("liquidator stopped")
			return ctx.Err()
		case <-ticker.C:
			r.scanAll(ctx)
		}
	}
}

func (r *Runner) scanAll(ctx context.Context) {
	for _, asset := range r.bot.market.AllCollateralTokens() {
		if ctx.Err() != nil {
			return
		}
		r.scanAsset(asset)
	}
}

func (r *Runner) scanAsset(asset common.Address) {
	label := asset.Hex()
	log := r.log.With(slog.String("asset", label))
	offset := 0
	for {
		payload, err := json.Marshal(CheckPayload{Asset: asset, Offset: offset, Limit: r.limit})
		if err != nil {
			r.metrics.RecordError("encode")
			log.Error("encode check payload", slog.String("error", err.Error()))
			return
		}

		start := time.Now()
		needed, performData, err := r.bot.CheckUpkeep(payload)
		r.metrics.ObserveScan(label, time.Since(start))
		if err != nil {
			r.metrics.RecordError("check")
			log.Error("check upkeep", slog.Int("offset", offset), slog.String("error", err.Error()))
			return
		}
		if needed {
			err := r.bot.PerformUpkeep(performData)
			r.metrics.ObserveUpkeep(label, err)
			if err != nil {
				log.Warn("perform upkeep", slog.Int("offset", offset), slog.String("error", err.Error()))
			} else {
				log.Info("performed upkeep", slog.Int("offset", offset))
			}
		}

		offset += r.limit
		if offset >= len(r.bot.market.PositionUsers(asset)) {
			return
		}
	}
}
