package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"database/sql"

	"github.com/nsealgo/controller/internal/allocator"
	"github.com/nsealgo/controller/internal/bias"
	"github.com/nsealgo/controller/internal/broker/kite"
	"github.com/nsealgo/controller/internal/broker/paper"
	"github.com/nsealgo/controller/internal/config"
	"github.com/nsealgo/controller/internal/dedup"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/engine"
	"github.com/nsealgo/controller/internal/enhancer"
	"github.com/nsealgo/controller/internal/events"
	"github.com/nsealgo/controller/internal/feed"
	"github.com/nsealgo/controller/internal/internals"
	"github.com/nsealgo/controller/internal/monitor"
	"github.com/nsealgo/controller/internal/orders"
	"github.com/nsealgo/controller/internal/positions"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/nsealgo/controller/internal/scheduler"
	"github.com/nsealgo/controller/internal/store"
	"github.com/nsealgo/controller/internal/strategy"
)

const postExitCooldown = 10 * time.Minute // spec §4.4 default

// Wire constructs the full dependency graph in dependency order —
// database first, then the leaf caches, then the broker adapter, then
// every component that reads from them, then the Position Monitor and
// the Engine, which depends on nearly everything else, finishing with the
// Scheduler and its jobs. Any failure past the
// database step closes what was already opened before returning, so a
// partially-wired Container never leaks a connection.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := sql.Open("sqlite", cfg.DataDir+"/sentinel.db")
	if err != nil {
		return nil, fmt.Errorf("di: open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("di: migrate schema: %w", err)
	}

	c := &Container{
		Log:    log,
		DB:     db,
		Store:  store.NewSQLStore(db),
		Ledger: store.NewLedger(db),
	}

	c.QuoteCache = feed.NewQuoteCache()
	c.FeedGap = feed.NewGap()

	brokerAdapter, feedAdapter, err := wireBroker(cfg, log, c.QuoteCache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("di: wire broker: %w", err)
	}
	c.Broker = brokerAdapter
	c.Feed = feedAdapter

	c.Events = events.NewBus(log)
	c.Internals = internals.NewAnalyzer(log)
	c.Bias = bias.NewEngine()
	c.Enhancer = enhancer.New()
	c.Positions = positions.New()

	c.Dedup = dedup.New(c.Store, func(symbol string) bool {
		return c.Positions.Exists(symbol)
	}, postExitCooldown)

	c.Risk = risk.NewManager(risk.DefaultLimits(), cfg.StartingCapital)

	c.Accounts = []domain.UserAccount{{
		UserID:            cfg.MasterUserID,
		Capital:           cfg.StartingCapital,
		AvailableMargin:   cfg.StartingCapital,
		PerformanceWeight: 1.0,
		IsMaster:          true,
		Enabled:           true,
	}}

	c.Allocator = allocator.New(log, c.accountSource, c.strategyWeightSource, c.recordTrade)
	c.Orders = orders.New(log, c.Broker, c.Allocator.Allocate, c.Risk, cfg.MasterUserID)

	c.Monitor = monitor.NewRunner(log, c.Positions, c.Risk,
		c.quoteFunc, c.optionsPriceFunc, c.Orders.SubmitPositionExit,
		c.Dedup, c.Ledger, c.Enhancer)

	c.Pool = strategy.NewPool()

	c.Engine = engine.New(log, c.QuoteCache, c.Internals, c.Bias, c.Pool, c.Enhancer, c.Dedup,
		c.Risk, c.Allocator, c.Orders, c.Positions, c.Monitor, c.Events, c.Broker, c.Ledger)

	c.Scheduler = scheduler.New(log)
	if err := registerScheduledJobs(c, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("di: register scheduled jobs: %w", err)
	}

	return c, nil
}

// registerScheduledJobs wires the three wall-clock jobs spec §1 calls for:
// the market-open daily-counter reset, the EOD capital snapshot taken
// after the monitor's mandatory square-off window has flattened the
// book, and a stale-cooldown sweep run every few minutes throughout the
// day. Schedules are IST wall-clock times; the Scheduler sets no cron
// location, so cron reads them in the process's local zone and these
// assume the process runs in the Asia/Kolkata zone
// (true of the container/VM this control plane is deployed to).
func registerScheduledJobs(c *Container, cfg *config.Config) error {
	if err := c.Scheduler.AddJob("0 45 9 * * MON-FRI", &scheduler.DailyCounterReset{
		Broker: c.Broker, Ledger: c.Ledger, UserID: cfg.MasterUserID,
	}); err != nil {
		return err
	}
	if err := c.Scheduler.AddJob("0 35 15 * * MON-FRI", &scheduler.EODCapitalSnapshot{
		Broker: c.Broker, Ledger: c.Ledger, UserID: cfg.MasterUserID,
	}); err != nil {
		return err
	}
	if err := c.Scheduler.AddJob("0 */5 * * * *", &scheduler.StaleCooldownSweep{
		Store: store.NewSQLStore(c.DB), Log: c.Log,
	}); err != nil {
		return err
	}
	return nil
}

func wireBroker(cfg *config.Config, log zerolog.Logger, cache *feed.QuoteCache) (domain.Broker, feed.Feed, error) {
	if cfg.PaperTrading {
		b := paper.New(log, cache, cfg.StartingCapital)
		return b, nil, nil
	}

	client := kite.New()
	if err := client.AddAccount(kite.Credentials{
		UserID:      cfg.ZerodhaUserID,
		APIKey:      cfg.ZerodhaAPIKey,
		AccessToken: cfg.ZerodhaAccessToken,
	}); err != nil {
		return nil, nil, fmt.Errorf("no silent mock fallback on auth failure: %w", err)
	}
	return client, nil, nil
}

// Start launches the tick feed (if wired), the wall-clock job Scheduler,
// and the Engine — the Engine's own Start launches the Order Manager's
// broker-update watcher and both of its scheduled loops, so this is the
// one call a caller needs to bring the whole control plane up. The
// allocator's background cache refresher is lazily started on first
// Allocate call and needs no explicit call here.
func (c *Container) Start(ctx context.Context) error {
	if c.Feed != nil {
		go func() {
			if err := c.Feed.Run(ctx, c.QuoteCache); err != nil && ctx.Err() == nil {
				c.Log.Error().Err(err).Msg("feed stopped")
			}
		}()
	}
	c.Scheduler.Start()
	return c.Engine.Start(ctx)
}

// Stop winds the control plane down in the reverse order Start brought it
// up: stop accepting new scheduled-job runs, then stop the Engine (which
// cancels both of its loops and the Order Manager's update watcher).
func (c *Container) Stop() {
	c.Scheduler.Stop()
	if err := c.Engine.Stop(); err != nil {
		c.Log.Warn().Err(err).Msg("engine stop")
	}
}

func (c *Container) accountSource() []domain.UserAccount {
	return c.Accounts
}

func (c *Container) strategyWeightSource(strategyName string) float64 {
	stat, err := c.Ledger.StrategyStats(context.Background(), strategyName)
	if err != nil {
		return 1.0
	}
	total := stat.Wins + stat.Losses
	if total == 0 {
		return 1.0 // no track record yet: don't starve a brand-new strategy
	}
	return float64(stat.Wins) / float64(total)
}

func (c *Container) recordTrade(userID string, sig domain.Signal, qty float64) {
	c.Log.Debug().Str("user", userID).Str("symbol", sig.Symbol).Float64("qty", qty).Msg("allocation recorded")
}

func (c *Container) quoteFunc(symbol string) (float64, bool) {
	q, ok := c.QuoteCache.Get(symbol)
	if !ok {
		return 0, false
	}
	return q.LTP, true
}

func (c *Container) optionsPriceFunc(ctx context.Context, symbols []string) map[string]float64 {
	quotes, err := c.Broker.GetQuote(ctx, symbols)
	if err != nil {
		c.Log.Warn().Err(err).Msg("options price batch refresh failed")
		return nil
	}
	out := make(map[string]float64, len(quotes))
	for symbol, q := range quotes {
		out[symbol] = q.LTP
	}
	return out
}
