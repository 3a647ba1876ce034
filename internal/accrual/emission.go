package accrual

import (
	"fmt"
	"math/big"
)

// Emission modes accepted by NewEmission.
const (
	ModeShareSeconds = "share-seconds"
	ModeFixedRate    = "fixed-rate"
)

// Emission decides how many points a pool emits over an interval.
// Nothing is emitted while the pool holds no shares.
type Emission interface {
	Name() string
	Emitted(deltaT int64, totalShares *big.Int) *big.Int
}

// ShareSecondsEmission emits deltaT * totalShares: every share earns one point per second.
type ShareSecondsEmission struct{}

// Name returns the emission mode.
func (ShareSecondsEmission) Name() string { return ModeShareSeconds }

// Emitted returns deltaT * totalShares.
func (ShareSecondsEmission) Emitted(deltaT int64, totalShares *big.Int) *big.Int {
	if deltaT <= 0 || totalShares == nil || totalShares.Sign() <= 0 {
		return big.NewInt(0)
	}
	return ShareSeconds(deltaT, totalShares)
}

// FixedRateEmission emits RatePerSecond per elapsed second, split across the pool.
type FixedRateEmission struct {
	RatePerSecond *big.Int
}

// Name returns the emission mode.
func (FixedRateEmission) Name() string { return ModeFixedRate }

// Emitted returns deltaT * RatePerSecond, or zero for an empty pool.
func (e FixedRateEmission) Emitted(deltaT int64, totalShares *big.Int) *big.Int {
	if deltaT <= 0 || totalShares == nil || totalShares.Sign() <= 0 || e.RatePerSecond == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(big.NewInt(deltaT), e.RatePerSecond)
}

// NewEmission builds the emission for a configured mode. A nil rate falls back
// to DefaultRatePerSecond for the fixed-rate mode.
func NewEmission(mode string, ratePerSecond *big.Int) (Emission, error) {
	switch mode {
	case "", ModeShareSeconds:
		return ShareSecondsEmission{}, nil
	case ModeFixedRate:
		if ratePerSecond == nil {
			ratePerSecond = DefaultRatePerSecond()
		}
		if ratePerSecond.Sign() <= 0 {
			return nil, fmt.Errorf("fixed-rate emission requires a positive rate, got %s", ratePerSecond)
		}
		return FixedRateEmission{RatePerSecond: new(big.Int).Set(ratePerSecond)}, nil
	default:
		return nil, fmt.Errorf("unknown emission mode %q", mode)
	}
}
