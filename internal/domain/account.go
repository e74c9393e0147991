package domain

import "time"

// UserAccount is one broker-linked account the allocator may route orders
// to.
type UserAccount struct {
	UserID            string
	Capital           float64
	AvailableMargin   float64
	LastTradeAt       time.Time
	PerformanceWeight float64 // [0,2], default 1
	IsMaster          bool
	Enabled           bool
}
