// Package signals provides the external readings that conditions are evaluated against:
// spot prices, network gas prices, account balances and the wall clock.
package signals

import (
	"context"
	"errors"
	"time"
)

// ErrSignalUnavailable is returned when a reading could not be fetched from upstream.
var ErrSignalUnavailable = errors.New("signal unavailable")

// Reading is a numeric signal value and the time it was observed.
type Reading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceSource returns the spot price of a token quoted in a currency.
type PriceSource interface {
	Price(ctx context.Context, token, currency string) (Reading, error)
}

// GasSource returns the gas price of a network in gwei.
type GasSource interface {
	GasPrice(ctx context.Context, network string) (Reading, error)
}

// BalanceSource returns the balance of an address for a token on a network.
type BalanceSource interface {
	Balance(ctx context.Context, address, token, network string) (Reading, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Sources groups the signal sources a condition evaluator reads from. Nil sources make the
// corresponding leaves evaluate to false.
type Sources struct {
	Price   PriceSource
	Gas     GasSource
	Balance BalanceSource
	Clock   Clock
}
