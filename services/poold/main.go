package poold

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"omnipool/config"
	"omnipool/core/events"
	"omnipool/core/state"
	"omnipool/native/bank"
	"omnipool/native/exchange/oneinch"
	"omnipool/native/pool"
	"omnipool/native/settlement/zklink"
	"omnipool/observability/logging"
	telemetry "omnipool/observability/otel"
	"omnipool/storage"
)

const idempotencyPruneInterval = 15 * time.Minute

// Main initialises and runs the pool daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/poold/config.yaml", "path to poold configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}))
	}
	logger, logCloser := logging.Setup("poold", cfg.Environment, logOpts...)
	defer logCloser.Close()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "poold",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	poolCfg, err := config.Load(cfg.PoolConfig)
	if err != nil {
		return fmt.Errorf("load pool config: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(poolCfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()
	journal := state.NewJournal(db)
	ledger := bank.NewLedger(journal)

	engine, gateway, err := buildEngine(poolCfg, journal, ledger)
	if err != nil {
		return err
	}

	recordsDB, err := OpenDatabase(cfg.Indexer)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	indexer, err := NewIndexer(recordsDB, logger)
	if err != nil {
		return err
	}
	hub := NewHub(cfg.Stream.Backlog, cfg.Stream.Buffer)
	executor := NewExecutor(engine, journal,
		WithSink(events.Fanout{indexer, hub}),
		WithLogger(logger),
		WithAssetLabels(poolCfg.AssetLabel),
	)
	if err := bootstrap(executor, poolCfg, ledger); err != nil {
		return err
	}

	reconciler, err := NewReconciler(ReconConfig{
		Executor:  executor,
		OutputDir: cfg.Reports.Dir,
		DryRun:    cfg.Reports.DryRun,
		Label:     poolCfg.AssetLabel,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	idem, err := OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL.Duration, nil)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}

	server, err := NewServer(ServerConfig{
		Executor:    executor,
		Assets:      ledger,
		Resolver:    poolCfg,
		Settlement:  gateway,
		Indexer:     indexer,
		Hub:         hub,
		Reconciler:  reconciler,
		Auth:        auth,
		Limiter:     NewRateLimiter(cfg.RateLimit),
		Idempotency: idem,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), "poold"),
		ReadTimeout:  cfg.Timeouts.Read.Duration,
		WriteTimeout: cfg.Timeouts.Write.Duration,
		IdleTimeout:  cfg.Timeouts.Idle.Duration,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pruneIdempotency(stopCtx, idem, logger)

	errs := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "addr", cfg.ListenAddress, "instance", poolCfg.Instance)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildEngine wires the engine to the journal, the asset ledger, the
// configured swap routers and the settlement gateway.
func buildEngine(cfg *config.Config, journal *state.Journal, ledger *bank.Ledger) (*pool.Engine, *zklink.Gateway, error) {
	instance, err := cfg.InstanceAddress()
	if err != nil {
		return nil, nil, fmt.Errorf("pool config: Instance: %w", err)
	}
	gatewayAddr, err := cfg.GatewayAddress()
	if err != nil {
		return nil, nil, fmt.Errorf("pool config: Gateway: %w", err)
	}
	rates, err := cfg.RouterRates()
	if err != nil {
		return nil, nil, err
	}

	engine := pool.NewEngine(instance, new(big.Int).SetUint64(cfg.ChainID))
	engine.SetState(journal)
	engine.SetAssetLedger(ledger)

	routers := make(pool.RouterTable, len(rates))
	for router, list := range rates {
		venue := oneinch.NewFixedRateVenue(ledger)
		for _, rate := range list {
			if err := venue.SetRate(rate.Src, rate.Dst, rate.Num, rate.Den); err != nil {
				return nil, nil, fmt.Errorf("router %s: %w", router.Hex(), err)
			}
		}
		routers[router] = oneinch.NewAdapter(venue)
	}
	engine.SetRouters(routers)

	gateway := zklink.NewGateway(gatewayAddr, journal)
	engine.SetGateway(gateway)
	return engine, gateway, nil
}

// bootstrap writes the registry genesis and seed balances on first start.
func bootstrap(executor *Executor, cfg *config.Config, ledger *bank.Ledger) error {
	genesis, err := cfg.Genesis()
	if err != nil {
		return err
	}
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	var initialized bool
	_ = executor.View(func(engine *pool.Engine) error {
		initialized = engine.Initialized()
		return nil
	})
	if initialized {
		return nil
	}
	return executor.Do(context.Background(), "initialize", genesis.Owner, func(_ context.Context, engine *pool.Engine) error {
		if err := engine.Initialize(genesis); err != nil {
			return err
		}
		for _, b := range balances {
			if err := ledger.Mint(b.Holder, b.Asset, b.Amount); err != nil {
				return fmt.Errorf("seed %s/%s: %w", b.Holder.Hex(), b.Asset.Hex(), err)
			}
		}
		return nil
	})
}

func pruneIdempotency(ctx context.Context, store *IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencyPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune()
			if err != nil {
				logger.Warn("idempotency prune failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency entries pruned", "count", removed)
			}
		}
	}
}
