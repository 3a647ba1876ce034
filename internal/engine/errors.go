package engine

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrMarketNotFound is returned when an event references a market that was never created.
	ErrMarketNotFound = errors.New("market not found")

	// ErrVaultNotFound is returned when an event references a vault that was never created.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrFeeRecipientNotSet is returned when fee shares are minted before a recipient exists.
	ErrFeeRecipientNotSet = errors.New("fee recipient not set")

	// ErrAggregateExists is returned when a creation event targets an existing market or vault.
	ErrAggregateExists = errors.New("aggregate already exists")

	// ErrUnknownEvent is returned for an event type outside the closed set.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNegativeBalance is returned when a delta would drive a balance below zero.
	ErrNegativeBalance = errors.New("negative balance")
)

// BalanceError describes a rejected delta. The event is discarded as a whole;
// the balance is never clamped.
type BalanceError struct {
	Entity  string
	Field   string
	Balance *big.Int
	Delta   *big.Int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: %s %s = %s, delta %s",
		ErrNegativeBalance, e.Entity, e.Field, e.Balance, e.Delta)
}

func (e *BalanceError) Unwrap() error { return ErrNegativeBalance }

// IsFatal reports whether err must abort a replay. Balance errors reject a
// single event; everything else means the stream or state is inconsistent.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrNegativeBalance)
}

// addChecked returns balance + delta, or a BalanceError if the result is negative.
func addChecked(entity, field string, balance, delta *big.Int) (*big.Int, error) {
	out := new(big.Int).Add(balance, delta)
	if out.Sign() < 0 {
		return nil, &BalanceError{
			Entity:  entity,
			Field:   field,
			Balance: new(big.Int).Set(balance),
			Delta:   new(big.Int).Set(delta),
		}
	}
	return out, nil
}
