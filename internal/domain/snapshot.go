package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketSnapshot freezes a market's state at a timestamp.
// ID is "<market>-<timestamp>"; PreviousSnapshot links to the snapshot
// taken at the market's previous LastUpdate.
type MarketSnapshot struct {
	ID               string
	PreviousSnapshot *string
	Market           common.Hash
	Timestamp        int64
	BlockNumber      uint64

	TotalSupplyShares     *big.Int
	TotalBorrowShares     *big.Int
	TotalCollateral       *big.Int
	TotalSupplyPoints     *big.Int
	TotalBorrowPoints     *big.Int
	TotalCollateralPoints *big.Int
	SupplyPointsIndex     *big.Int
	BorrowPointsIndex     *big.Int
	CollateralPointsIndex *big.Int
}

// MarketPositionSnapshot freezes a market position at a timestamp.
type MarketPositionSnapshot struct {
	ID               string
	PreviousSnapshot *string
	Position         string
	MarketSnapshot   string
	Timestamp        int64
	BlockNumber      uint64

	SupplyShares     *big.Int
	BorrowShares     *big.Int
	Collateral       *big.Int
	SupplyPoints     *big.Int
	BorrowPoints     *big.Int
	CollateralPoints *big.Int
}

// VaultSnapshot freezes a vault's state at a timestamp.
type VaultSnapshot struct {
	ID               string
	PreviousSnapshot *string
	Vault            common.Address
	Timestamp        int64
	BlockNumber      uint64

	TotalShares *big.Int
	TotalPoints *big.Int
	PointsIndex *big.Int
}

// VaultPositionSnapshot freezes a vault position at a timestamp.
type VaultPositionSnapshot struct {
	ID               string
	PreviousSnapshot *string
	Position         string
	VaultSnapshot    string
	Timestamp        int64
	BlockNumber      uint64

	Shares       *big.Int
	SupplyPoints *big.Int
}
