package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionNormalizeAutoCorrectsSide(t *testing.T) {
	p := &Position{Side: Long, AveragePrice: 100, StopLoss: 110, Target: 90}
	p.Normalize()
	assert.Equal(t, Short, p.Side, "stop above avg, target below avg is a short shape")
}

func TestPositionRecalculateUnrealizedPnLLong(t *testing.T) {
	p := &Position{Side: Long, AveragePrice: 100, CurrentPrice: 110, Quantity: 10}
	p.RecalculateUnrealizedPnL()
	assert.Equal(t, 100.0, p.UnrealizedPnL)
}

func TestPositionRecalculateUnrealizedPnLShort(t *testing.T) {
	p := &Position{Side: Short, AveragePrice: 100, CurrentPrice: 90, Quantity: 10}
	p.RecalculateUnrealizedPnL()
	assert.Equal(t, 100.0, p.UnrealizedPnL)
}

func TestPositionTimeInPosition(t *testing.T) {
	entry := time.Date(2026, 1, 1, 9, 15, 0, 0, time.UTC)
	p := &Position{EntryTime: entry}
	now := entry.Add(20 * time.Minute)
	assert.Equal(t, 20*time.Minute, p.TimeInPosition(now))
}
