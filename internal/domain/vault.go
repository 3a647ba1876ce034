package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is the aggregate reward state of one MetaMorpho vault.
// The vault's own shares form a single pool.
type Vault struct {
	ID           common.Address  // vault contract address
	Asset        common.Address  // underlying asset
	FeeRecipient *common.Address // nil until SetFeeRecipient

	TotalShares *big.Int
	TotalAssets *big.Int
	TotalPoints *big.Int
	PointsIndex *big.Int // scaled by 1e36
	TotalShards *big.Int

	LastUpdate int64
	CreatedAt  int64
}

// NewVault returns a vault with all counters at zero.
func NewVault(id, asset common.Address, createdAt int64) *Vault {
	return &Vault{
		ID:          id,
		Asset:       asset,
		TotalShares: new(big.Int),
		TotalAssets: new(big.Int),
		TotalPoints: new(big.Int),
		PointsIndex: new(big.Int),
		TotalShards: new(big.Int),
		LastUpdate:  createdAt,
		CreatedAt:   createdAt,
	}
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	c := *v
	if v.FeeRecipient != nil {
		r := *v.FeeRecipient
		c.FeeRecipient = &r
	}
	c.TotalShares = CloneInt(v.TotalShares)
	c.TotalAssets = CloneInt(v.TotalAssets)
	c.TotalPoints = CloneInt(v.TotalPoints)
	c.PointsIndex = CloneInt(v.PointsIndex)
	c.TotalShards = CloneInt(v.TotalShards)
	return &c
}

// VaultPosition is one user's share balance in one vault.
type VaultPosition struct {
	ID    string // idhash.VaultPositionID(user, vault)
	Vault common.Address
	User  common.Address

	Shares                *big.Int
	SupplyPoints          *big.Int
	LastSupplyPointsIndex *big.Int
	SupplyShards          *big.Int

	LastUpdate int64
}

// NewVaultPosition returns an empty vault position.
func NewVaultPosition(id string, vault, user common.Address) *VaultPosition {
	return &VaultPosition{
		ID:                    id,
		Vault:                 vault,
		User:                  user,
		Shares:                new(big.Int),
		SupplyPoints:          new(big.Int),
		LastSupplyPointsIndex: new(big.Int),
		SupplyShards:          new(big.Int),
	}
}

// Clone returns a deep copy.
func (p *VaultPosition) Clone() *VaultPosition {
	if p == nil {
		return nil
	}
	c := *p
	c.Shares = CloneInt(p.Shares)
	c.SupplyPoints = CloneInt(p.SupplyPoints)
	c.LastSupplyPointsIndex = CloneInt(p.LastSupplyPointsIndex)
	c.SupplyShards = CloneInt(p.SupplyShards)
	return &c
}
