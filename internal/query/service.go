// Package query answers points questions at an arbitrary time by projecting
// stored state forward. Nothing read here is ever written back.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/accrual"
	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
)

// MarketPoints is a user's market position projected to AsOf.
type MarketPoints struct {
	Market common.Hash
	User   common.Address
	AsOf   int64

	SupplyShares *big.Int
	BorrowShares *big.Int
	Collateral   *big.Int

	SupplyPoints     *big.Int
	BorrowPoints     *big.Int
	CollateralPoints *big.Int

	SupplyShards     *big.Int
	BorrowShards     *big.Int
	CollateralShards *big.Int
}

// TotalPoints returns supply + borrow + collateral points.
func (p *MarketPoints) TotalPoints() *big.Int {
	total := new(big.Int).Add(p.SupplyPoints, p.BorrowPoints)
	return total.Add(total, p.CollateralPoints)
}

// VaultPoints is a user's vault position projected to AsOf.
type VaultPoints struct {
	Vault common.Address
	User  common.Address
	AsOf  int64

	Shares *big.Int
	Points *big.Int
	Shards *big.Int
}

// UserPoints collects every position of one user.
type UserPoints struct {
	User    common.Address
	AsOf    int64
	Markets []*MarketPoints
	Vaults  []*VaultPoints
}

// Total returns the sum of market and vault points.
func (u *UserPoints) Total() *big.Int {
	total := new(big.Int)
	for _, m := range u.Markets {
		total.Add(total, m.TotalPoints())
	}
	for _, v := range u.Vaults {
		total.Add(total, v.Points)
	}
	return total
}

// Service projects stored positions to a requested time.
type Service struct {
	store storage.StateReader
	acc   *accrual.Accumulator
}

// NewService creates a query service. acc must use the same emission policy
// the state was built with.
func NewService(store storage.StateReader, acc *accrual.Accumulator) *Service {
	return &Service{store: store, acc: acc}
}

// LatestTimestamp returns the block timestamp of the last applied event, or 0.
func (s *Service) LatestTimestamp(ctx context.Context) (int64, error) {
	cp, err := s.store.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.Timestamp, nil
}

// Market returns the market projected to now.
func (s *Service) Market(ctx context.Context, id common.Hash, now int64) (*domain.Market, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id.Hex(), err)
	}
	return s.acc.ProjectMarket(m, now)
}

// Vault returns the vault projected to now.
func (s *Service) Vault(ctx context.Context, id common.Address, now int64) (*domain.Vault, error) {
	v, err := s.store.GetVault(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get vault %s: %w", id.Hex(), err)
	}
	return s.acc.ProjectVault(v, now)
}

// MarketPosition returns user's points in market at now.
func (s *Service) MarketPosition(ctx context.Context, market common.Hash, user common.Address, now int64) (*MarketPoints, error) {
	m, err := s.store.GetMarket(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", market.Hex(), err)
	}
	p, err := s.store.GetMarketPosition(ctx, idhash.MarketPositionID(user, market))
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", market.Hex(), user.Hex(), err)
	}
	return s.projectMarketPosition(m, p, now)
}

// VaultPosition returns user's points in vault at now.
func (s *Service) VaultPosition(ctx context.Context, vault, user common.Address, now int64) (*VaultPoints, error) {
	v, err := s.store.GetVault(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("get vault %s: %w", vault.Hex(), err)
	}
	p, err := s.store.GetVaultPosition(ctx, idhash.VaultPositionID(user, vault))
	if err != nil {
		return nil, fmt.Errorf("get vault position %s/%s: %w", vault.Hex(), user.Hex(), err)
	}
	return s.projectVaultPosition(v, p, now)
}

// UserPoints returns all of user's positions at now.
func (s *Service) UserPoints(ctx context.Context, user common.Address, now int64) (*UserPoints, error) {
	out := &UserPoints{User: user, AsOf: now}

	mps, err := s.store.ListMarketPositionsByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list market positions: %w", err)
	}
	markets := make(map[common.Hash]*domain.Market)
	for _, p := range mps {
		m, ok := markets[p.Market]
		if !ok {
			if m, err = s.store.GetMarket(ctx, p.Market); err != nil {
				return nil, fmt.Errorf("get market %s: %w", p.Market.Hex(), err)
			}
			markets[p.Market] = m
		}
		mp, err := s.projectMarketPosition(m, p, now)
		if err != nil {
			return nil, err
		}
		out.Markets = append(out.Markets, mp)
	}

	vps, err := s.store.ListVaultPositionsByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list vault positions: %w", err)
	}
	vaults := make(map[common.Address]*domain.Vault)
	for _, p := range vps {
		v, ok := vaults[p.Vault]
		if !ok {
			if v, err = s.store.GetVault(ctx, p.Vault); err != nil {
				return nil, fmt.Errorf("get vault %s: %w", p.Vault.Hex(), err)
			}
			vaults[p.Vault] = v
		}
		vp, err := s.projectVaultPosition(v, p, now)
		if err != nil {
			return nil, err
		}
		out.Vaults = append(out.Vaults, vp)
	}
	return out, nil
}

// AllPositions returns every market and vault position at now, ordered by
// entity then position id.
func (s *Service) AllPositions(ctx context.Context, now int64) ([]*MarketPoints, []*VaultPoints, error) {
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list markets: %w", err)
	}
	var mps []*MarketPoints
	for _, m := range markets {
		positions, err := s.store.ListMarketPositionsByMarket(ctx, m.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list positions of %s: %w", m.ID.Hex(), err)
		}
		for _, p := range positions {
			mp, err := s.projectMarketPosition(m, p, now)
			if err != nil {
				return nil, nil, err
			}
			mps = append(mps, mp)
		}
	}

	vaults, err := s.store.ListVaults(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list vaults: %w", err)
	}
	var vps []*VaultPoints
	for _, v := range vaults {
		positions, err := s.store.ListVaultPositionsByVault(ctx, v.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list positions of %s: %w", v.ID.Hex(), err)
		}
		for _, p := range positions {
			vp, err := s.projectVaultPosition(v, p, now)
			if err != nil {
				return nil, nil, err
			}
			vps = append(vps, vp)
		}
	}
	return mps, vps, nil
}

func (s *Service) projectMarketPosition(m *domain.Market, p *domain.MarketPosition, now int64) (*MarketPoints, error) {
	_, pos, err := s.acc.ProjectMarketPosition(m, p, now)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return &MarketPoints{
		Market:           pos.Market,
		User:             pos.User,
		AsOf:             now,
		SupplyShares:     pos.SupplyShares,
		BorrowShares:     pos.BorrowShares,
		Collateral:       pos.Collateral,
		SupplyPoints:     pos.SupplyPoints,
		BorrowPoints:     pos.BorrowPoints,
		CollateralPoints: pos.CollateralPoints,
		SupplyShards:     pos.SupplyShards,
		BorrowShards:     pos.BorrowShards,
		CollateralShards: pos.CollateralShards,
	}, nil
}

func (s *Service) projectVaultPosition(v *domain.Vault, p *domain.VaultPosition, now int64) (*VaultPoints, error) {
	_, pos, err := s.acc.ProjectVaultPosition(v, p, now)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return &VaultPoints{
		Vault:  pos.Vault,
		User:   pos.User,
		AsOf:   now,
		Shares: pos.Shares,
		Points: pos.SupplyPoints,
		Shards: pos.SupplyShards,
	}, nil
}
