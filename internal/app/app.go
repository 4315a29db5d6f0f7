package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dn-hedge-bot/internal/alerts"
	"dn-hedge-bot/internal/config"
	"dn-hedge-bot/internal/exec"
	"dn-hedge-bot/internal/hl/exchange"
	"dn-hedge-bot/internal/hl/rest"
	"dn-hedge-bot/internal/hl/ws"
	"dn-hedge-bot/internal/market"
	"dn-hedge-bot/internal/metrics"
	"dn-hedge-bot/internal/state/sqlite"
	"dn-hedge-bot/internal/strategy"
	"dn-hedge-bot/internal/timescale"
	"dn-hedge-bot/internal/venue"
	"dn-hedge-bot/internal/venue/binance"
	"dn-hedge-bot/internal/venue/hyperliquid"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const closeoutTimeout = 30 * time.Second

// App wires the venues, strategy engine and observability sinks together and
// drives the cycle loop.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	market   *market.MarketData
	exchange *exchange.Client
	hlVenue  venue.Venue
	bnVenue  venue.Venue
	engine   *strategy.Engine
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	notifier *alerts.Notifier
	history  *timescale.Writer

	realizedPnL decimal.Decimal
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	hlCfg := cfg.Venues.Hyperliquid
	restClient := rest.New(hlCfg.BaseURL, hlCfg.Timeout, log)
	wsClient := ws.New(hlCfg.WSURL, hlCfg.ReconnectDelay, hlCfg.PingInterval, log)
	marketData := market.New(restClient, wsClient, 0, log)

	privKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privKey == "" {
		_ = store.Close()
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	signer, err := exchange.NewSigner(privKey, isMainnet(hlCfg.BaseURL))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("hyperliquid signer: %w", err)
	}
	if wallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS")); wallet != "" {
		if !strings.EqualFold(wallet, signer.Address().Hex()) {
			_ = store.Close()
			return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", signer.Address().Hex(), wallet)
		}
	}
	vault := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	exClient, err := exchange.NewClient(hlCfg.BaseURL, hlCfg.Timeout, signer, vault)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("hyperliquid exchange client: %w", err)
	}
	exClient.SetLogger(log)

	binanceKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	binanceSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if binanceKey == "" || binanceSecret == "" {
		_ = store.Close()
		return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}

	hlVenue := exec.New(hyperliquid.New(marketData, exClient, hlCfg, log), store, log)
	bnVenue := exec.New(binance.New(cfg.Venues.Binance, binanceKey, binanceSecret, log), store, log)

	pair := venue.NewTradingPair(cfg.Strategy.BaseAsset, cfg.Strategy.QuoteAsset)
	engine := strategy.New(hlVenue, bnVenue, pair, cfg.Strategy.NotionalDecimal(), store, log)

	app := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		market:   marketData,
		exchange: exClient,
		hlVenue:  hlVenue,
		bnVenue:  bnVenue,
		engine:   engine,
		metrics:  metrics.NewNoop(),
	}
	if cfg.Metrics.Enabled {
		app.prom = metrics.NewPrometheus()
		app.metrics = app.prom.Metrics
	}
	if cfg.Telegram.Enabled {
		app.notifier = alerts.NewNotifier(alerts.NewTelegram(cfg.Telegram, log), log)
	}
	history, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale writer: %w", err)
	}
	app.history = history
	return app, nil
}

// Run drives the cycle loop until the context is cancelled or the configured
// max runtime elapses, then unwinds any open pair before returning.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.history.Close()

	runCtx := ctx
	if a.cfg.Strategy.MaxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Strategy.MaxRuntime)
		defer cancel()
	}

	if err := a.exchange.InitNonceStore(runCtx, a.store); err != nil {
		a.log.Warn("nonce persistence unavailable", zap.Error(err))
	} else if nonceState, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled",
			zap.String("nonce_key", nonceState.Key),
			zap.Uint64("nonce_seed", nonceState.Last),
		)
	}
	if err := a.market.Start(runCtx); err != nil {
		return fmt.Errorf("market data start: %w", err)
	}
	a.history.Start(runCtx)
	stopMetrics := a.startMetricsServer()
	defer stopMetrics()

	if err := a.engine.Initialize(runCtx); err != nil {
		return err
	}
	a.notifier.Started(runCtx, a.engine.Pair())

	if err := a.tick(runCtx); err != nil {
		a.notifier.Stopped(context.Background(), nil)
		return err
	}
	ticker := time.NewTicker(a.cfg.Strategy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			a.log.Info("run loop stopping", zap.NamedError("cause", context.Cause(runCtx)))
			return a.shutdown()
		case <-ticker.C:
			if err := a.tick(runCtx); err != nil {
				a.notifier.Stopped(context.Background(), nil)
				return err
			}
		}
	}
}

// tick runs one cycle. Transient cycle errors are logged and the loop keeps
// going; an unhedged open is fatal because retrying could double the
// exposure an operator now has to unwind by hand.
func (a *App) tick(ctx context.Context) error {
	report, err := a.engine.Cycle(ctx)
	a.observe(ctx, report, err)
	var cycleErr *strategy.CycleError
	if errors.As(err, &cycleErr) && cycleErr.UnhedgedLeg != "" {
		return cycleErr
	}
	if err != nil {
		a.log.Warn("cycle failed", zap.Error(err))
	}
	return nil
}

// observe feeds one cycle's outcome to metrics, alerts and the history sink.
func (a *App) observe(ctx context.Context, report *strategy.CycleReport, err error) {
	if report == nil {
		return
	}
	if report.Close != nil {
		a.observeClose(ctx, report.Seq, report.Close, report.Opened)
	}
	if report.Opened {
		a.metrics.OrdersPlaced.Inc()
		a.metrics.OrdersPlaced.Inc()
		a.metrics.CyclesCompleted.Inc()
		a.notifier.CycleCompleted(ctx, report)
		a.enqueueLegs(report)
	}
	if err == nil {
		return
	}
	a.metrics.OrdersFailed.Inc()
	var cycleErr *strategy.CycleError
	if errors.As(err, &cycleErr) && cycleErr.UnhedgedLeg != "" {
		a.metrics.UnhedgedOpens.Inc()
		a.notifier.UnhedgedPosition(ctx, cycleErr)
	}
}

func (a *App) observeClose(ctx context.Context, seq uint64, close *strategy.CloseReport, opened bool) {
	if close.Skipped {
		return
	}
	for _, result := range close.Results {
		if result.Err != nil {
			a.metrics.CloseFailures.Inc()
			a.notifier.CloseFailed(ctx, result.Venue, result.Err)
		}
	}
	if close.HasPnL {
		pnl, _ := close.TotalPnL.Float64()
		a.metrics.LastCyclePnL.Set(pnl)
		a.realizedPnL = a.realizedPnL.Add(close.TotalPnL)
		total, _ := a.realizedPnL.Float64()
		a.metrics.RealizedPnL.Set(total)
	}
	record := timescale.CycleRecord{
		Time:   time.Now().UTC(),
		Seq:    seq,
		Pair:   a.engine.Pair().String(),
		HasPnL: close.HasPnL,
		Opened: opened,
	}
	record.LongPnL, _ = close.LongPnL.Float64()
	record.ShortPnL, _ = close.ShortPnL.Float64()
	record.TotalPnL, _ = close.TotalPnL.Float64()
	// Results are ordered long leg first.
	if len(close.Results) == 2 {
		record.LongVenue = string(close.Results[0].Venue)
		record.ShortVenue = string(close.Results[1].Venue)
	}
	a.history.EnqueueCycle(record)
}

func (a *App) enqueueLegs(report *strategy.CycleReport) {
	now := time.Now().UTC()
	for _, order := range []*venue.Order{report.Long, report.Short} {
		if order == nil {
			continue
		}
		record := timescale.LegRecord{
			Time:   now,
			Seq:    report.Seq,
			Venue:  string(order.Asset.Venue),
			Symbol: order.Asset.Symbol,
			Side:   string(order.Side),
		}
		record.Price, _ = order.Price.Float64()
		record.Size, _ = order.Size.Float64()
		record.Notional, _ = order.Notional().Float64()
		a.history.EnqueueLeg(record)
	}
}

// shutdown unwinds any open pair with a fresh context: the run context is
// already cancelled by the time we get here.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeoutTimeout)
	defer cancel()

	report := a.engine.ClosePositions(ctx, a.closeoutPrices(ctx))
	if !report.Skipped {
		a.observeClose(ctx, 0, report, false)
	}
	a.notifier.Stopped(ctx, report)
	for _, result := range report.Results {
		if result.Err != nil {
			return fmt.Errorf("final closeout on %s: %w", result.Venue, result.Err)
		}
	}
	return nil
}

// closeoutPrices fetches fresh prices for the shutdown closeout. Fetch
// failures leave the zero value, which the engine replaces with the leg's
// entry price.
func (a *App) closeoutPrices(ctx context.Context) strategy.ClosePrices {
	var prices strategy.ClosePrices
	long, short, ok := a.engine.OpenOrders()
	if !ok {
		return prices
	}
	if px, err := a.venueFor(long.Asset.Venue).Price(ctx, long.Asset); err == nil {
		prices.Long = px
	} else {
		a.log.Warn("closeout price fetch failed", zap.String("venue", string(long.Asset.Venue)), zap.Error(err))
	}
	if px, err := a.venueFor(short.Asset.Venue).Price(ctx, short.Asset); err == nil {
		prices.Short = px
	} else {
		a.log.Warn("closeout price fetch failed", zap.String("venue", string(short.Asset.Venue)), zap.Error(err))
	}
	return prices
}

func (a *App) venueFor(name venue.Name) venue.Venue {
	if name == a.hlVenue.Name() {
		return a.hlVenue
	}
	return a.bnVenue
}

func (a *App) startMetricsServer() func() {
	if a.prom == nil {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// isMainnet keys the EIP-712 signing domain off the API host: anything that
// is not a testnet endpoint signs for mainnet.
func isMainnet(baseURL string) bool {
	return !strings.Contains(strings.ToLower(baseURL), "testnet")
}
