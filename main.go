package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/api"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/backtest"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/balance"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/data"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/indicators"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/monitor"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/persistence"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/reconciliation"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/strategy"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/symbols"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/config"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/crypto"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
	exfutusdt "github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/binance/futures_usdt"
	exchange "github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/i18n"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/instance"
	marketbinance "github.com/BirdFarmer/BinanceRepo-sub002/pkg/market/binance"
)

const version = "2.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// `hash-password <plain>` prints a bcrypt hash for ADMIN_PASSWORD_HASH.
	if len(os.Args) == 3 && os.Args[1] == "hash-password" {
		hash, err := api.HashPassword(os.Args[2])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(hash)
		return
	}
	// `encrypt-secret <plain>` seals a credential with CREDENTIALS_KEY.
	if len(os.Args) == 3 && os.Args[1] == "encrypt-secret" {
		_ = godotenv.Load()
		kr, err := crypto.LoadKeyring("CREDENTIALS_KEY", os.Getenv)
		if err != nil {
			log.Fatal(err)
		}
		sealed, err := kr.Seal(os.Args[2])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(sealed)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Mode, cfg.SessionID, cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf(i18n.Get("RunFailed"), err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}
	host := instance.ID("futures-engine")
	if err := database.CreateSession(ctx, db.Session{ID: cfg.SessionID, Mode: cfg.Mode, Host: host, StartedAt: time.Now()}); err != nil {
		return fmt.Errorf(i18n.Get("SessionFailed"), err)
	}

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	metrics.RegisterGaugeFunc("bus_dropped_events", "Events dropped on full subscriber buffers.", func() float64 {
		return float64(bus.Dropped())
	})
	sink := persistence.NewTradeSink(database)
	metrics.RegisterGaugeFunc("journal_write_failures", "Trade journal writes that failed.", func() float64 {
		_, failures := sink.Stats()
		return float64(failures)
	})

	futures := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:    cfg.BinanceUSDTKey,
		APISecret: cfg.BinanceUSDTSecret,
		Testnet:   cfg.BinanceTestnet,
	})

	symbolCache := symbols.NewCache(futures)
	if err := symbolCache.Start(ctx); err != nil {
		return fmt.Errorf(i18n.Get("SymbolsBootstrapFailed"), err)
	}
	log.Printf(i18n.Get("SymbolsReady"), symbolCache.Len())

	app, err := buildCore(cfg, symbolCache, sink, bus, futures)
	if err != nil {
		return err
	}
	initial, err := seedBalance(ctx, cfg, app.balance, futures)
	if err != nil {
		return err
	}
	metrics.SetBalance(initial)
	log.Printf(i18n.Get("BalanceInitialized"), initial)
	log.Printf(i18n.Get("EngineReady"), cfg.Leverage, cfg.MarginPerTrade, cfg.MaxOpenPositions, cfg.ExitMode, cfg.DirectionFilter)
	log.Printf(i18n.Get("StrategyLoaded"), app.runner.Strategy().Name(), cfg.Interval)
	ctrl, store, runner := app.ctrl, app.store, app.runner

	adminHash, err := adminPasswordHash(cfg)
	if err != nil {
		return err
	}
	if adminHash == "" {
		log.Println(i18n.Get("LoginDisabled"))
	}
	server := api.NewServer(api.Options{
		Engine:            ctrl,
		Trades:            database,
		Bus:               bus,
		Metrics:           metrics,
		Meta:              api.SystemMeta{Version: version, Instance: host, Testnet: cfg.BinanceTestnet},
		JWTSecret:         cfg.JWTSecret,
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: adminHash,
	})
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Alerts: monitor.LogSink{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		if err := server.Run(gctx, ":"+cfg.Port); err != nil {
			return fmt.Errorf(i18n.Get("APIServerError"), err)
		}
		return nil
	})

	switch cfg.Mode {
	case config.ModeBacktest:
		log.Printf(i18n.Get("BacktestMode"), cfg.BacktestStart.Format(time.RFC3339), cfg.BacktestEnd.Format(time.RFC3339))
		g.Go(func() error {
			return runBacktest(gctx, cfg, ctrl, store, app.clock, runner)
		})
	case config.ModeLive:
		log.Printf(i18n.Get("LiveMode"), cfg.BinanceTestnet)
		futures.StartTimeSync(gctx)
		log.Println(i18n.Get("TimeSyncStarted"))
		recon := reconciliation.NewService(futures, app.ledger, ctrl, bus, cfg.ReconcileInterval, cfg.ReconcileGrace)
		log.Printf(i18n.Get("ReconStarted"), cfg.ReconcileInterval)
		g.Go(func() error { return recon.Run(gctx) })
		userStream := reconciliation.NewUserStream(futures, ctrl, futures.UserStreamURL())
		g.Go(func() error { return userStream.Run(gctx) })
		g.Go(func() error { return runFeed(gctx, cfg, ctrl, store, bus, runner) })
	default:
		log.Println(i18n.Get("PaperMode"))
		g.Go(func() error { return runFeed(gctx, cfg, ctrl, store, bus, runner) })
	}

	<-gctx.Done()
	log.Println(i18n.Get("ShuttingDown"))
	ctrl.Halt()
	log.Println(i18n.Get("EngineHalted"))
	if n := len(ctrl.OpenPositions()); n > 0 {
		log.Printf(i18n.Get("PositionsLeftOpen"), n)
	}
	return g.Wait()
}

// seedBalance returns the starting balance. Live entries are admitted against
// the exchange wallet; other modes use the configured figure.
func seedBalance(ctx context.Context, cfg *config.Config, ledger *balance.Manager, wallet balance.WalletSource) (float64, error) {
	if cfg.Mode != config.ModeLive {
		return ledger.Available(), nil
	}
	return ledger.Sync(ctx, wallet, "USDT")
}

// core is the mode-independent engine assembly.
type core struct {
	store   *market.Store
	ledger  *position.Ledger
	balance *balance.Manager
	ctrl    *engine.Controller
	runner  *strategy.Runner
	clock   *backtest.Clock // backtest only
}

// buildCore wires market data storage, risk, ledgers, the controller and the
// signal producer. gateway is only attached in live mode.
func buildCore(cfg *config.Config, rules engine.SymbolRules, sink engine.Sink, bus events.Publisher, gateway exchange.Gateway) (*core, error) {
	store := market.NewStore(1000)
	ind := indicators.NewService(store, cfg.ATRPeriod)
	riskEngine := risk.NewEngine(ind, riskSettings(cfg))

	filter, err := position.ParseDirectionFilter(cfg.DirectionFilter)
	if err != nil {
		return nil, err
	}
	ledger := position.NewLedger(cfg.MaxOpenPositions, filter)

	c := &core{store: store, ledger: ledger, balance: balance.NewManager(cfg.InitialBalance)}
	opts := engine.Options{
		Mode:           cfg.Mode,
		SessionID:      cfg.SessionID,
		Symbols:        cfg.Symbols,
		MarginPerTrade: cfg.MarginPerTrade,
		MarginType:     cfg.MarginType,
		LegSpacing:     cfg.LegSpacing,
	}
	if cfg.Mode == config.ModeBacktest {
		c.clock = &backtest.Clock{}
		opts.Clock = c.clock.Now
	}
	deps := engine.Deps{
		Ledger:  ledger,
		Balance: c.balance,
		Risk:    riskEngine,
		Symbols: rules,
		Sink:    sink,
		Bus:     bus,
	}
	if cfg.Mode == config.ModeLive {
		deps.Gateway = gateway
	}
	if c.ctrl, err = engine.NewController(opts, deps); err != nil {
		return nil, err
	}

	strat, err := strategy.New(cfg.Strategy, strategy.Params{
		FastEMA:    cfg.FastEMA,
		SlowEMA:    cfg.SlowEMA,
		RSIPeriod:  cfg.RSIPeriod,
		Oversold:   cfg.RSIOversold,
		Overbought: cfg.RSIOverbought,
	})
	if err != nil {
		return nil, err
	}
	ctrl := c.ctrl
	c.runner = strategy.NewRunner(strat, store, cfg.Interval, func(ctx context.Context, sig strategy.Signal) {
		// rejections are published on the bus and counted by the monitor
		_, _ = ctrl.Enter(ctx, engine.Signal{
			Symbol:    sig.Symbol,
			Side:      sig.Side,
			Tag:       sig.Tag,
			Price:     sig.Price,
			KlineTime: sig.Time,
		})
	})
	return c, nil
}

// runFeed drives paper and live sessions from the exchange market data.
func runFeed(ctx context.Context, cfg *config.Config, ctrl *engine.Controller, store *market.Store, bus events.Publisher, runner *strategy.Runner) error {
	feed := &market.Feed{
		Client:       marketbinance.NewClient(cfg.BinanceTestnet),
		Stream:       marketbinance.NewStreamClient(cfg.BinanceTestnet),
		Store:        store,
		Bus:          bus,
		Symbols:      cfg.Symbols,
		Interval:     cfg.Interval,
		PollInterval: cfg.PollInterval,
		WarmupBars:   warmupBars(cfg, runner),
		OnTick: func(symbol string, price float64) {
			ctrl.EvaluateTicks(ctx, map[string]float64{symbol: price}, time.Now())
		},
		OnCandle: func(c market.Candle) {
			runner.OnCandle(ctx, c)
		},
	}
	log.Printf(i18n.Get("FeedStarted"), cfg.Symbols)
	return feed.Run(ctx)
}

// runBacktest loads the configured window and replays it. The API stays up
// afterwards so the journal can be inspected.
func runBacktest(ctx context.Context, cfg *config.Config, ctrl *engine.Controller, store *market.Store, clock *backtest.Clock, runner *strategy.Runner) error {
	history := data.NewHistoricalDataService(marketbinance.NewClient(cfg.BinanceTestnet))
	series := make(map[string][]market.Candle, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		log.Printf(i18n.Get("BacktestLoading"), cfg.Interval, sym)
		candles, err := history.Range(ctx, sym, cfg.Interval, cfg.BacktestStart, cfg.BacktestEnd)
		if err != nil {
			log.Printf(i18n.Get("BacktestLoadError"), sym, err)
			if len(candles) == 0 {
				continue
			}
		}
		series[sym] = candles
	}

	replay := &backtest.Replay{
		Engine:   ctrl,
		Store:    store,
		Interval: cfg.Interval,
		Clock:    clock,
		OnCandle: runner.OnCandle,
	}
	summary, err := replay.Run(ctx, series)
	if err != nil {
		return err
	}
	log.Printf(i18n.Get("BacktestFinished"), summary.Trades, summary.Wins, summary.Losses, summary.NetPnL, summary.FinalBalance)
	log.Printf("backtest: win rate %.1f%%, max drawdown %.4f, by reason %v", summary.WinRate(), summary.MaxDrawdown, summary.ByReason)
	log.Println(i18n.Get("BacktestKeepsAlive"))
	<-ctx.Done()
	return nil
}

func riskSettings(cfg *config.Config) risk.Settings {
	mode, err := risk.ParseExitMode(cfg.ExitMode)
	if err != nil {
		// Validate already restricts EXIT_MODE
		mode = risk.ExitFixedTP
	}
	return risk.Settings{
		ExitMode:              mode,
		PnLTargetPct:          cfg.PnLTargetPercent,
		RRDivider:             cfg.RRDivider,
		BaseTPPct:             cfg.BaseTPPercent,
		StopMultiplier:        cfg.StopMultiplier,
		TrailingATRMultiplier: cfg.TrailingATRMultiplier,
		TrailingActivationPct: cfg.TrailingActivationPercent,
		TrailingCallbackPct:   cfg.TrailingCallbackPercent,
		Leverage:              cfg.Leverage,
		MaintMarginRate:       cfg.MaintMarginRate,
		Interval:              cfg.Interval,
	}
}

// warmupBars covers both the strategy window and the ATR lookback.
func warmupBars(cfg *config.Config, runner *strategy.Runner) int {
	n := runner.Strategy().Lookback()
	if atr := cfg.ATRPeriod + 1; atr > n {
		n = atr
	}
	return n + 50
}

func adminPasswordHash(cfg *config.Config) (string, error) {
	if cfg.AdminPasswordHash != "" {
		return cfg.AdminPasswordHash, nil
	}
	if cfg.AdminPassword == "" {
		return "", nil
	}
	return api.HashPassword(cfg.AdminPassword)
}
