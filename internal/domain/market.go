package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Market is the aggregate reward state of one lending market.
// Created by a CreateMarket event; never created implicitly.
type Market struct {
	ID              common.Hash    // keccak256 of the market params
	LoanToken       common.Address // asset supplied and borrowed
	CollateralToken common.Address // asset posted as collateral, may be a vault
	Oracle          common.Address
	IRM             common.Address
	LLTV            *big.Int

	TotalSupplyShares *big.Int
	TotalSupplyAssets *big.Int
	TotalBorrowShares *big.Int
	TotalBorrowAssets *big.Int
	TotalCollateral   *big.Int // collateral is asset-denominated

	TotalSupplyPoints     *big.Int
	TotalBorrowPoints     *big.Int
	TotalCollateralPoints *big.Int

	SupplyPointsIndex     *big.Int // scaled by 1e36
	BorrowPointsIndex     *big.Int
	CollateralPointsIndex *big.Int

	TotalSupplyShards     *big.Int // share-seconds
	TotalBorrowShards     *big.Int
	TotalCollateralShards *big.Int

	LastUpdate int64 // unix seconds of the last accrual
	CreatedAt  int64
}

// NewMarket returns a market with all counters at zero.
func NewMarket(id common.Hash, createdAt int64) *Market {
	return &Market{
		ID:                    id,
		LLTV:                  new(big.Int),
		TotalSupplyShares:     new(big.Int),
		TotalSupplyAssets:     new(big.Int),
		TotalBorrowShares:     new(big.Int),
		TotalBorrowAssets:     new(big.Int),
		TotalCollateral:       new(big.Int),
		TotalSupplyPoints:     new(big.Int),
		TotalBorrowPoints:     new(big.Int),
		TotalCollateralPoints: new(big.Int),
		SupplyPointsIndex:     new(big.Int),
		BorrowPointsIndex:     new(big.Int),
		CollateralPointsIndex: new(big.Int),
		TotalSupplyShards:     new(big.Int),
		TotalBorrowShards:     new(big.Int),
		TotalCollateralShards: new(big.Int),
		LastUpdate:            createdAt,
		CreatedAt:             createdAt,
	}
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	c := *m
	c.LLTV = CloneInt(m.LLTV)
	c.TotalSupplyShares = CloneInt(m.TotalSupplyShares)
	c.TotalSupplyAssets = CloneInt(m.TotalSupplyAssets)
	c.TotalBorrowShares = CloneInt(m.TotalBorrowShares)
	c.TotalBorrowAssets = CloneInt(m.TotalBorrowAssets)
	c.TotalCollateral = CloneInt(m.TotalCollateral)
	c.TotalSupplyPoints = CloneInt(m.TotalSupplyPoints)
	c.TotalBorrowPoints = CloneInt(m.TotalBorrowPoints)
	c.TotalCollateralPoints = CloneInt(m.TotalCollateralPoints)
	c.SupplyPointsIndex = CloneInt(m.SupplyPointsIndex)
	c.BorrowPointsIndex = CloneInt(m.BorrowPointsIndex)
	c.CollateralPointsIndex = CloneInt(m.CollateralPointsIndex)
	c.TotalSupplyShards = CloneInt(m.TotalSupplyShards)
	c.TotalBorrowShards = CloneInt(m.TotalBorrowShards)
	c.TotalCollateralShards = CloneInt(m.TotalCollateralShards)
	return &c
}

// MarketPosition is one user's exposure to one market.
// Created lazily on the first transaction touching it.
type MarketPosition struct {
	ID     string // idhash.MarketPositionID(user, market)
	Market common.Hash
	User   common.Address

	SupplyShares *big.Int
	BorrowShares *big.Int
	Collateral   *big.Int

	SupplyPoints     *big.Int
	BorrowPoints     *big.Int
	CollateralPoints *big.Int

	LastSupplyPointsIndex     *big.Int
	LastBorrowPointsIndex     *big.Int
	LastCollateralPointsIndex *big.Int

	SupplyShards     *big.Int
	BorrowShards     *big.Int
	CollateralShards *big.Int

	LastUpdate int64
}

// NewMarketPosition returns an empty position. The caller sets the index
// checkpoints and LastUpdate from the market before first use.
func NewMarketPosition(id string, market common.Hash, user common.Address) *MarketPosition {
	return &MarketPosition{
		ID:                        id,
		Market:                    market,
		User:                      user,
		SupplyShares:              new(big.Int),
		BorrowShares:              new(big.Int),
		Collateral:                new(big.Int),
		SupplyPoints:              new(big.Int),
		BorrowPoints:              new(big.Int),
		CollateralPoints:          new(big.Int),
		LastSupplyPointsIndex:     new(big.Int),
		LastBorrowPointsIndex:     new(big.Int),
		LastCollateralPointsIndex: new(big.Int),
		SupplyShards:              new(big.Int),
		BorrowShards:              new(big.Int),
		CollateralShards:          new(big.Int),
	}
}

// Clone returns a deep copy.
func (p *MarketPosition) Clone() *MarketPosition {
	if p == nil {
		return nil
	}
	c := *p
	c.SupplyShares = CloneInt(p.SupplyShares)
	c.BorrowShares = CloneInt(p.BorrowShares)
	c.Collateral = CloneInt(p.Collateral)
	c.SupplyPoints = CloneInt(p.SupplyPoints)
	c.BorrowPoints = CloneInt(p.BorrowPoints)
	c.CollateralPoints = CloneInt(p.CollateralPoints)
	c.LastSupplyPointsIndex = CloneInt(p.LastSupplyPointsIndex)
	c.LastBorrowPointsIndex = CloneInt(p.LastBorrowPointsIndex)
	c.LastCollateralPointsIndex = CloneInt(p.LastCollateralPointsIndex)
	c.SupplyShards = CloneInt(p.SupplyShards)
	c.BorrowShards = CloneInt(p.BorrowShards)
	c.CollateralShards = CloneInt(p.CollateralShards)
	return &c
}

// CloneInt copies x; nil becomes zero.
func CloneInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
