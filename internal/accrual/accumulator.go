package accrual

import (
	"errors"
	"fmt"
	"math/big"

	"morpho-points/internal/domain"
)

// ErrNegativeElapsed is returned when an entity would be synced to a timestamp
// before its LastUpdate. Input is out of order; the value is never clamped.
var ErrNegativeElapsed = errors.New("negative elapsed time")

// ElapsedError carries the offending interval.
type ElapsedError struct {
	Entity     string
	LastUpdate int64
	Timestamp  int64
}

func (e *ElapsedError) Error() string {
	return fmt.Sprintf("%s: %s last update %d, sync to %d",
		ErrNegativeElapsed, e.Entity, e.LastUpdate, e.Timestamp)
}

func (e *ElapsedError) Unwrap() error { return ErrNegativeElapsed }

func elapsed(entity string, lastUpdate, ts int64) (int64, error) {
	dt := ts - lastUpdate
	if dt < 0 {
		return 0, &ElapsedError{Entity: entity, LastUpdate: lastUpdate, Timestamp: ts}
	}
	return dt, nil
}

// Accumulator applies one emission policy to every pool of every market and vault.
// All methods mutate only the struct they are given.
type Accumulator struct {
	emission Emission
}

// New creates an accumulator. A nil emission defaults to share-seconds.
func New(emission Emission) *Accumulator {
	if emission == nil {
		emission = ShareSecondsEmission{}
	}
	return &Accumulator{emission: emission}
}

// Emission returns the configured policy.
func (a *Accumulator) Emission() Emission {
	return a.emission
}

// accruePool advances one share pool by deltaT.
func (a *Accumulator) accruePool(deltaT int64, shares, points, index, shards *big.Int) (*big.Int, *big.Int, *big.Int) {
	newPoints := domain.CloneInt(points)
	newIndex := domain.CloneInt(index)
	newShards := domain.CloneInt(shards)
	if deltaT == 0 || shares == nil || shares.Sign() <= 0 {
		return newPoints, newIndex, newShards
	}

	emitted := a.emission.Emitted(deltaT, shares)
	if emitted.Sign() > 0 {
		newIndex.Add(newIndex, IndexIncrement(emitted, shares))
		newPoints.Add(newPoints, emitted)
	}
	newShards.Add(newShards, ShareSeconds(deltaT, shares))
	return newPoints, newIndex, newShards
}

// SyncMarket brings the market's three pools up to ts and sets LastUpdate = ts.
func (a *Accumulator) SyncMarket(m *domain.Market, ts int64) error {
	dt, err := elapsed("market "+m.ID.Hex(), m.LastUpdate, ts)
	if err != nil {
		return err
	}

	m.TotalSupplyPoints, m.SupplyPointsIndex, m.TotalSupplyShards =
		a.accruePool(dt, m.TotalSupplyShares, m.TotalSupplyPoints, m.SupplyPointsIndex, m.TotalSupplyShards)
	m.TotalBorrowPoints, m.BorrowPointsIndex, m.TotalBorrowShards =
		a.accruePool(dt, m.TotalBorrowShares, m.TotalBorrowPoints, m.BorrowPointsIndex, m.TotalBorrowShards)
	m.TotalCollateralPoints, m.CollateralPointsIndex, m.TotalCollateralShards =
		a.accruePool(dt, m.TotalCollateral, m.TotalCollateralPoints, m.CollateralPointsIndex, m.TotalCollateralShards)

	m.LastUpdate = ts
	return nil
}

// SyncMarketPosition credits the position with what its balances earned since
// its last sync. The market must already be synced to ts.
func (a *Accumulator) SyncMarketPosition(p *domain.MarketPosition, m *domain.Market, ts int64) error {
	dt, err := elapsed("market position "+p.ID, p.LastUpdate, ts)
	if err != nil {
		return err
	}

	p.SupplyPoints = add(p.SupplyPoints, Earned(m.SupplyPointsIndex, p.LastSupplyPointsIndex, p.SupplyShares))
	p.BorrowPoints = add(p.BorrowPoints, Earned(m.BorrowPointsIndex, p.LastBorrowPointsIndex, p.BorrowShares))
	p.CollateralPoints = add(p.CollateralPoints, Earned(m.CollateralPointsIndex, p.LastCollateralPointsIndex, p.Collateral))

	p.LastSupplyPointsIndex = domain.CloneInt(m.SupplyPointsIndex)
	p.LastBorrowPointsIndex = domain.CloneInt(m.BorrowPointsIndex)
	p.LastCollateralPointsIndex = domain.CloneInt(m.CollateralPointsIndex)

	p.SupplyShards = add(p.SupplyShards, ShareSeconds(dt, p.SupplyShares))
	p.BorrowShards = add(p.BorrowShards, ShareSeconds(dt, p.BorrowShares))
	p.CollateralShards = add(p.CollateralShards, ShareSeconds(dt, p.Collateral))

	p.LastUpdate = ts
	return nil
}

// SyncVault brings the vault's share pool up to ts.
func (a *Accumulator) SyncVault(v *domain.Vault, ts int64) error {
	dt, err := elapsed("vault "+v.ID.Hex(), v.LastUpdate, ts)
	if err != nil {
		return err
	}
	v.TotalPoints, v.PointsIndex, v.TotalShards =
		a.accruePool(dt, v.TotalShares, v.TotalPoints, v.PointsIndex, v.TotalShards)
	v.LastUpdate = ts
	return nil
}

// SyncVaultPosition credits a vault position. The vault must already be synced to ts.
func (a *Accumulator) SyncVaultPosition(p *domain.VaultPosition, v *domain.Vault, ts int64) error {
	dt, err := elapsed("vault position "+p.ID, p.LastUpdate, ts)
	if err != nil {
		return err
	}
	p.SupplyPoints = add(p.SupplyPoints, Earned(v.PointsIndex, p.LastSupplyPointsIndex, p.Shares))
	p.LastSupplyPointsIndex = domain.CloneInt(v.PointsIndex)
	p.SupplyShards = add(p.SupplyShards, ShareSeconds(dt, p.Shares))
	p.LastUpdate = ts
	return nil
}

// CheckpointMarketPosition aligns a fresh position with the market's current
// indices so it cannot earn retroactively.
func CheckpointMarketPosition(p *domain.MarketPosition, m *domain.Market) {
	p.LastSupplyPointsIndex = domain.CloneInt(m.SupplyPointsIndex)
	p.LastBorrowPointsIndex = domain.CloneInt(m.BorrowPointsIndex)
	p.LastCollateralPointsIndex = domain.CloneInt(m.CollateralPointsIndex)
	p.LastUpdate = m.LastUpdate
}

// CheckpointVaultPosition aligns a fresh vault position with the vault's index.
func CheckpointVaultPosition(p *domain.VaultPosition, v *domain.Vault) {
	p.LastSupplyPointsIndex = domain.CloneInt(v.PointsIndex)
	p.LastUpdate = v.LastUpdate
}
