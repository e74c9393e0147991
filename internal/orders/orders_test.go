package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nsealgo/controller/internal/allocator"
	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu        sync.Mutex
	placed    []domain.OrderRequest
	nextID    int64
	failNext  bool
	updates   chan domain.OrderUpdate
	placeDelay time.Duration
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{updates: make(chan domain.OrderUpdate, 16)}
}

func (f *fakeBroker) GetMargins(ctx context.Context) (domain.Margins, error) { return domain.Margins{}, nil }
func (f *fakeBroker) GetPositions(ctx context.Context) (domain.BrokerPositions, error) {
	return domain.BrokerPositions{}, nil
}
func (f *fakeBroker) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	return nil, nil
}
func (f *fakeBroker) GetHistoricalData(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeDelay > 0 {
		time.Sleep(f.placeDelay)
	}
	f.placed = append(f.placed, req)
	if f.failNext {
		f.failNext = false
		return "", errors.New("broker rejected")
	}
	f.nextID++
	return fmt.Sprintf("ORD-%d", f.nextID), nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeBroker) OrderUpdates() <-chan domain.OrderUpdate               { return f.updates }

func newManager(broker domain.Broker, allocate AllocateFunc) *Manager {
	riskMgr := risk.NewManager(risk.DefaultLimits(), 1_000_000)
	return New(zerolog.Nop(), broker, allocate, riskMgr, "master")
}

func istAt(hour, minute int) time.Time {
	return time.Date(2026, 7, 27, hour, minute, 0, 0, clock.IST)
}

func TestValidateOrderBypassesAllChecksFlag(t *testing.T) {
	m := newManager(newFakeBroker(), nil)
	sig := domain.Signal{Metadata: map[string]any{"bypass_all_checks": true}}
	allowed, _ := m.ValidateOrder(istAt(20, 0), domain.OrderRequest{}, sig)
	assert.True(t, allowed)
}

func TestValidateOrderBypassesEmergencyTag(t *testing.T) {
	m := newManager(newFakeBroker(), nil)
	req := domain.OrderRequest{Tag: "EMERGENCY_FLATTEN"}
	allowed, _ := m.ValidateOrder(istAt(20, 0), req, domain.Signal{})
	assert.True(t, allowed)
}

func TestValidateOrderRejectsOutsideHoursForNonExit(t *testing.T) {
	m := newManager(newFakeBroker(), nil)
	allowed, reason := m.ValidateOrder(istAt(20, 0), domain.OrderRequest{}, domain.Signal{})
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
}

func TestValidateOrderAllowsExitAfterCutoffViaTag(t *testing.T) {
	m := newManager(newFakeBroker(), nil)
	req := domain.OrderRequest{Tag: "FULL_EXIT"}
	allowed, _ := m.ValidateOrder(istAt(15, 25), req, domain.Signal{})
	assert.True(t, allowed)
}

func TestPlaceStrategyOrderFansOutAcrossAllocations(t *testing.T) {
	broker := newFakeBroker()
	allocate := func(ctx context.Context, sig domain.Signal, totalQty float64, now time.Time) ([]allocator.Allocation, error) {
		return []allocator.Allocation{{UserID: "u1", Quantity: 6}, {UserID: "u2", Quantity: 4}}, nil
	}
	m := newManager(broker, allocate)

	out, err := m.PlaceStrategyOrder(context.Background(), istAt(10, 0), domain.Signal{Symbol: "TCS", Action: domain.Buy, StrategyName: "momentum"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, uo := range out {
		assert.NoError(t, uo.Err)
		assert.Equal(t, domain.OrderStatusPending, uo.Status)
		assert.NotEmpty(t, uo.OrderID)
	}
}

func TestPlaceStrategyOrderReturnsErrorOnAllocateFailure(t *testing.T) {
	broker := newFakeBroker()
	allocate := func(ctx context.Context, sig domain.Signal, totalQty float64, now time.Time) ([]allocator.Allocation, error) {
		return nil, errors.New("allocator broken")
	}
	m := newManager(broker, allocate)

	_, err := m.PlaceStrategyOrder(context.Background(), istAt(10, 0), domain.Signal{Symbol: "TCS"}, 10)
	assert.Error(t, err)
}

func TestDoSubmitMarksOrderRejectedOnBrokerError(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = true
	allocate := func(ctx context.Context, sig domain.Signal, totalQty float64, now time.Time) ([]allocator.Allocation, error) {
		return []allocator.Allocation{{UserID: "u1", Quantity: 10}}, nil
	}
	m := newManager(broker, allocate)

	out, err := m.PlaceStrategyOrder(context.Background(), istAt(10, 0), domain.Signal{Symbol: "TCS"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.OrderStatusRejected, out[0].Status)
	assert.Error(t, out[0].Err)
}

func TestSubmitPositionExitUsesMasterUserAndOppositeAction(t *testing.T) {
	broker := newFakeBroker()
	m := newManager(broker, nil)

	p := domain.Position{Symbol: "TCS", Side: domain.Long, Strategy: "momentum"}
	err := m.SubmitPositionExit(context.Background(), p, 10, "target_full_exit")
	require.NoError(t, err)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Len(t, broker.placed, 1)
	assert.Equal(t, "master", broker.placed[0].UserID)
	assert.Equal(t, domain.Sell, broker.placed[0].Action)
	assert.True(t, broker.placed[0].ClosingAction)
}

func TestOrderQueueSerializesPerUser(t *testing.T) {
	broker := newFakeBroker()
	broker.placeDelay = 5 * time.Millisecond
	allocate := func(ctx context.Context, sig domain.Signal, totalQty float64, now time.Time) ([]allocator.Allocation, error) {
		return []allocator.Allocation{{UserID: "u1", Quantity: 1}}, nil
	}
	m := newManager(broker, allocate)

	var wg sync.WaitGroup
	var completed int64
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.PlaceStrategyOrder(context.Background(), istAt(10, 0), domain.Signal{Symbol: "TCS"}, 1)
			if err == nil {
				atomic.AddInt64(&completed, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, completed)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Len(t, broker.placed, 5)
}
