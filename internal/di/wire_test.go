package di

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsealgo/controller/internal/config"
	"github.com/nsealgo/controller/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:         t.TempDir(),
		Port:            8001,
		PaperTrading:    true,
		MasterUserID:    "master",
		StartingCapital: 1_000_000,
	}
}

func TestWirePaperModeBuildsACompleteContainer(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.DB)
	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Ledger)
	assert.NotNil(t, c.QuoteCache)
	assert.NotNil(t, c.FeedGap)
	assert.NotNil(t, c.Broker)
	assert.Nil(t, c.Feed) // paper mode wires no tick feed of its own
	assert.NotNil(t, c.Internals)
	assert.NotNil(t, c.Bias)
	assert.NotNil(t, c.Enhancer)
	assert.NotNil(t, c.Dedup)
	assert.NotNil(t, c.Risk)
	assert.NotNil(t, c.Allocator)
	assert.NotNil(t, c.Orders)
	assert.NotNil(t, c.Positions)
	assert.NotNil(t, c.Monitor)
	assert.NotNil(t, c.Pool)
	assert.NotNil(t, c.Events)
	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Scheduler)
	require.Len(t, c.Accounts, 1)
	assert.True(t, c.Accounts[0].IsMaster)
	assert.Equal(t, "master", c.Accounts[0].UserID)
}

func TestWireLiveModeRejectsEmptyAccessToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.PaperTrading = false
	cfg.ZerodhaAPIKey = "key"
	cfg.ZerodhaAPISecret = "secret"
	cfg.ZerodhaUserID = "AB1234"
	cfg.ZerodhaAccessToken = ""

	_, err := Wire(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestAccountSourceReturnsWiredAccounts(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	accounts := c.accountSource()
	require.Len(t, accounts, 1)
	assert.Equal(t, "master", accounts[0].UserID)
}

func TestStrategyWeightSourceDefaultsToOneForUntrackedStrategy(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1.0, c.strategyWeightSource("brand-new-strategy"))
}

func TestStrategyWeightSourceReflectsWinRate(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ledger.RecordOutcome(ctx, "momentum", 100))
	require.NoError(t, c.Ledger.RecordOutcome(ctx, "momentum", -50))
	require.NoError(t, c.Ledger.RecordOutcome(ctx, "momentum", 25))

	assert.InDelta(t, 2.0/3.0, c.strategyWeightSource("momentum"), 0.0001)
}

func TestQuoteFuncReadsFromCache(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.quoteFunc("RELIANCE")
	assert.False(t, ok)

	c.QuoteCache.Put(domain.Quote{Symbol: "RELIANCE", LTP: 2500})
	ltp, ok := c.quoteFunc("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 2500.0, ltp)
}

func TestOptionsPriceFuncBatchesThroughBroker(t *testing.T) {
	c, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	c.QuoteCache.Put(domain.Quote{Symbol: "NIFTY25AUG20000CE", LTP: 120})
	out := c.optionsPriceFunc(context.Background(), []string{"NIFTY25AUG20000CE"})
	require.Contains(t, out, "NIFTY25AUG20000CE")
	assert.Equal(t, 120.0, out["NIFTY25AUG20000CE"])
}
