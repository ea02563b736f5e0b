package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"airlend/config"
	"airlend/native/backstop"
	"airlend/native/market"
	"airlend/native/oracle"
	"airlend/native/registry"
	"airlend/native/swap"
	"airlend/native/token"
	"airlend/native/vault"
	"airlend/observability/logging"
	"airlend/server"
	"airlend/services/liquidator"
	"airlend/storage/statedb"
)

const stableSymbol = "airUSD"

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Setup("airlendd", cfg.Environment)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := statedb.Open(filepath.Join(cfg.DataDir, "market.db"), nil)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	snap, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	state := market.NewMemoryState()
	state.Restore(snap)

	owner := systemAddress("owner")
	marketAccount := systemAddress("market")
	treasury := systemAddress("treasury")
	staking := systemAddress("staking")
	poolAccount := systemAddress("stable-pool")

	stableAsset := systemAddress("asset/" + stableSymbol)
	stable := token.NewLedger(stableSymbol, 18, owner)

	reg := registry.New(owner)
	aggregator := oracle.NewAggregator(owner)

	dir := &directory{
		registry:   reg,
		aggregator: aggregator,
		ledgers:    map[common.Address]*token.Ledger{stableAsset: stable},
		vaults:     make(map[common.Address]market.CollateralVault),
		feeds:      make(map[common.Address]*oracle.ManualFeed),
	}
	router := swap.NewRouter(owner, aggregator, dir)
	if cfg.SlippageBps > 0 {
		if err := router.UpdateSlippageLimit(owner, cfg.SlippageBps); err != nil {
			return err
		}
	}
	dir.router = router
	pool := backstop.New(poolAccount, marketAccount, stable)
	dir.pool = pool

	engine := market.NewEngine(marketAccount, owner, stableAsset, stable, state, dir)

	for _, key := range []struct {
		name string
		addr common.Address
	}{
		{registry.KeyLendingMarket, marketAccount},
		{registry.KeyTreasury, treasury},
		{registry.KeyStaking, staking},
		{registry.KeyStablePool, poolAccount},
	} {
		if err := reg.SetAddress(owner, key.name, key.addr); err != nil {
			return err
		}
	}
	if err := stable.GrantRole(owner, marketAccount); err != nil {
		return err
	}
	if err := stable.GrantRole(owner, poolAccount); err != nil {
		return err
	}

	for _, raw := range cfg.Keepers {
		if !common.IsHexAddress(strings.TrimSpace(raw)) {
			return fmt.Errorf("invalid keeper address %q", raw)
		}
		if err := reg.AddKeeper(owner, common.HexToAddress(raw)); err != nil {
			return err
		}
	}

	if err := wireMarkets(cfg, owner, marketAccount, stableAsset, stable, engine, aggregator, router, dir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	botKeeper := systemAddress("keeper/bot")
	if err := reg.AddKeeper(owner, botKeeper); err != nil {
		return err
	}
	bot := liquidator.NewBot(engine, botKeeper)
	runner := liquidator.NewRunner(bot, time.Duration(cfg.ScanIntervalSeconds)*time.Second, cfg.ScanLimit, log)
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("liquidator runner", slog.String("error", err.Error()))
		}
	}()

	go persistLoop(ctx, store, state, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(engine, dir.feeds, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("airlendd listening", slog.String("addr", cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return store.Save(state.Snapshot())
}

// wireMarkets creates a ledger, manual price feed, vault and stable-pair swap
// pool per configured collateral and enables it on the engine. Collateral
// already restored from a snapshot keeps its stored setting.
func wireMarkets(cfg *config.Config, owner, marketAccount, stableAsset common.Address, stable *token.Ledger, engine *market.Engine, aggregator *oracle.Aggregator, router *swap.Router, dir *directory) error {
	for _, m := range cfg.Markets {
		if !common.IsHexAddress(strings.TrimSpace(m.Asset)) {
			return fmt.Errorf("invalid market asset %q", m.Asset)
		}
		asset := common.HexToAddress(m.Asset)
		decimals := m.Decimals
		if decimals == 0 {
			decimals = 18
		}
		ledger := token.NewLedger(m.Symbol, decimals, owner)
		dir.ledgers[asset] = ledger

		feed := oracle.NewManualFeed(8)
		dir.feeds[asset] = feed
		if err := aggregator.UpdateOracleForAsset(owner, asset, oracle.NewFeedAdapter(feed, common.Address{}, aggregator, 0)); err != nil {
			return err
		}

		vaultAccount := systemAddress("vault/" + m.Asset)
		dir.vaults[asset] = vault.New(asset, vaultAccount, marketAccount, ledger, nil)

		// Liquidations route through this pool until the owner installs a
		// deeper venue for the pair.
		lpLedger := token.NewLedger(m.Symbol+"-"+stableSymbol+"-LP", 18, owner)
		poolAccount := systemAddress("swap-pool/" + m.Asset)
		if err := lpLedger.GrantRole(owner, poolAccount); err != nil {
			return err
		}
		swapPool := swap.NewPool(poolAccount, asset, stableAsset, ledger, stable, lpLedger, 30)
		if err := router.AddSwapperImpl(owner, asset, stableAsset, swap.NewPoolSwapper(swapPool, asset)); err != nil {
			return err
		}

		var borrowCap *big.Int
		if trimmed := strings.TrimSpace(m.BorrowCap); trimmed != "" {
			parsed, ok := new(big.Int).SetString(trimmed, 10)
			if !ok {
				return fmt.Errorf("invalid borrow cap %q for %s", m.BorrowCap, m.Symbol)
			}
			borrowCap = parsed
		}
		err := engine.EnableCollateralToken(owner, asset, market.RateParams{
			CreditLimitRate:      market.Rate(m.CreditLimitRate),
			LiquidationLimitRate: market.Rate(m.LiquidationLimitRate),
			InterestApr:          market.Rate(m.InterestApr),
			OrgFeeRate:           market.Rate(m.OrgFeeRate),
			LiquidationPenalty:   market.Rate(m.LiquidationPenalty),
		}, borrowCap)
		if err != nil && !errors.Is(err, market.ErrAlreadyEnabled) {
			return fmt.Errorf("enable %s: %w", m.Symbol, err)
		}
	}
	return nil
}

func persistLoop(ctx context.Context, store *statedb.Store, state *market.MemoryState, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Save(state.Snapshot()); err != nil {
				log.Error("persist state", slog.String("error", err.Error()))
			}
		}
	}
}

// directory resolves the engine's collaborators. References whose address is
// managed through the registry are checked there first so re-pointing the
// registry takes effect on the next call.
type directory struct {
	registry   *registry.Registry
	aggregator *oracle.Aggregator
	router     *swap.Router
	pool       *backstop.Pool
	vaults     map[common.Address]market.CollateralVault
	ledgers    map[common.Address]*token.Ledger
	feeds      map[common.Address]*oracle.ManualFeed
}

func (d *directory) Oracle() (market.PriceSource, error) { return d.aggregator, nil }

func (d *directory) Swapper() (market.Swapper, error) {
	if d.router == nil {
		return nil, registry.ErrUnknownKey
	}
	return d.router, nil
}

func (d *directory) StablePool() (market.BackstopPool, error) {
	if _, err := d.registry.StablePool(); err != nil {
		return nil, err
	}
	return d.pool, nil
}

func (d *directory) Vault(asset common.Address) (market.CollateralVault, bool) {
	v, ok := d.vaults[asset]
	return v, ok
}

func (d *directory) Treasury() (common.Address, error) { return d.registry.Treasury() }

func (d *directory) Staking() (common.Address, error) { return d.registry.Staking() }

func (d *directory) IsKeeper(addr common.Address) bool { return d.registry.IsKeeper(addr) }

func (d *directory) Ledger(asset common.Address) (*token.Ledger, error) {
	ledger, ok := d.ledgers[asset]
	if !ok {
		return nil, fmt.Errorf("unknown asset %s", asset.Hex())
	}
	return ledger, nil
}

// Decimals satisfies the swap router's asset metadata lookup.
func (d *directory) Decimals(asset common.Address) (uint8, error) {
	ledger, err := d.Ledger(asset)
	if err != nil {
		return 0, err
	}
	return ledger.Decimals(), nil
}

// systemAddress derives a stable address for a protocol-internal account.
func systemAddress(label string) common.Address {
	hash := ethcrypto.Keccak256([]byte("airlend/" + label))
	return common.BytesToAddress(hash[12:])
}
