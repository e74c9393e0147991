package positions

import (
	"sync"
	"testing"
	"time"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePosition(symbol string) domain.Position {
	return domain.Position{
		Symbol:       symbol,
		Side:         domain.Long,
		Quantity:     10,
		AveragePrice: 100,
		CurrentPrice: 100,
		StopLoss:     95,
		Target:       110,
		EntryTime:    time.Now(),
		Strategy:     "momentum",
	}
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(samplePosition("TCS")))
	err := tr.Open(samplePosition("TCS"))
	assert.Error(t, err)
}

func TestOpenNormalizesSideFromStops(t *testing.T) {
	tr := New()
	p := samplePosition("TCS")
	p.Side = domain.Short // wrong — stops imply long
	require.NoError(t, tr.Open(p))

	got, ok := tr.Get("TCS")
	require.True(t, ok)
	assert.Equal(t, domain.Long, got.Side)
}

func TestUpdatePriceRecalculatesUnrealizedPnL(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(samplePosition("TCS")))

	updated, ok := tr.UpdatePrice("TCS", 105)
	require.True(t, ok)
	assert.Equal(t, 50.0, updated.UnrealizedPnL) // (105-100)*10
}

func TestCloseRemovesPositionAndReturnsFinal(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(samplePosition("TCS")))

	final, ok := tr.Close("TCS", 108, time.Now())
	require.True(t, ok)
	assert.Equal(t, 80.0, final.RealizedPnL) // (108-100)*10
	assert.False(t, tr.Exists("TCS"))
}

func TestCloseOnMissingSymbolReturnsFalse(t *testing.T) {
	tr := New()
	_, ok := tr.Close("NOPE", 100, time.Now())
	assert.False(t, ok)
}

func TestMutateAppliesCompoundUpdate(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(samplePosition("TCS")))

	updated, ok := tr.Mutate("TCS", func(p *domain.Position) {
		p.PartialProfitBooked = true
		p.TrailingStop = 102
	})
	require.True(t, ok)
	assert.True(t, updated.PartialProfitBooked)
	assert.Equal(t, 102.0, updated.TrailingStop)
}

func TestConcurrentOpenOnlyOneSucceeds(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	successes := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tr.Open(samplePosition("TCS"))
			successes <- err == nil
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSnapshotReturnsIndependentCopies(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(samplePosition("TCS")))

	snap := tr.Snapshot()
	snap["TCS"] = domain.Position{Symbol: "MUTATED"}

	got, _ := tr.Get("TCS")
	assert.Equal(t, "TCS", got.Symbol)
}
