package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

const marketColumns = `
	id, loan_token, collateral_token, oracle, irm, lltv::text,
	total_supply_shares::text, total_supply_assets::text,
	total_borrow_shares::text, total_borrow_assets::text, total_collateral::text,
	total_supply_points::text, total_borrow_points::text, total_collateral_points::text,
	supply_points_index::text, borrow_points_index::text, collateral_points_index::text,
	total_supply_shards::text, total_borrow_shards::text, total_collateral_shards::text,
	last_update, created_at`

func upsertMarket(ctx context.Context, db execer, m *domain.Market) error {
	_, err := db.Exec(ctx, `
		INSERT INTO markets (
			id, loan_token, collateral_token, oracle, irm, lltv,
			total_supply_shares, total_supply_assets, total_borrow_shares, total_borrow_assets, total_collateral,
			total_supply_points, total_borrow_points, total_collateral_points,
			supply_points_index, borrow_points_index, collateral_points_index,
			total_supply_shards, total_borrow_shards, total_collateral_shards,
			last_update, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE
		SET total_supply_shares = EXCLUDED.total_supply_shares,
		    total_supply_assets = EXCLUDED.total_supply_assets,
		    total_borrow_shares = EXCLUDED.total_borrow_shares,
		    total_borrow_assets = EXCLUDED.total_borrow_assets,
		    total_collateral = EXCLUDED.total_collateral,
		    total_supply_points = EXCLUDED.total_supply_points,
		    total_borrow_points = EXCLUDED.total_borrow_points,
		    total_collateral_points = EXCLUDED.total_collateral_points,
		    supply_points_index = EXCLUDED.supply_points_index,
		    borrow_points_index = EXCLUDED.borrow_points_index,
		    collateral_points_index = EXCLUDED.collateral_points_index,
		    total_supply_shards = EXCLUDED.total_supply_shards,
		    total_borrow_shards = EXCLUDED.total_borrow_shards,
		    total_collateral_shards = EXCLUDED.total_collateral_shards,
		    last_update = EXCLUDED.last_update
	`,
		m.ID.Hex(), addr(m.LoanToken), addr(m.CollateralToken), addr(m.Oracle), addr(m.IRM), num(m.LLTV),
		num(m.TotalSupplyShares), num(m.TotalSupplyAssets),
		num(m.TotalBorrowShares), num(m.TotalBorrowAssets), num(m.TotalCollateral),
		num(m.TotalSupplyPoints), num(m.TotalBorrowPoints), num(m.TotalCollateralPoints),
		num(m.SupplyPointsIndex), num(m.BorrowPointsIndex), num(m.CollateralPointsIndex),
		num(m.TotalSupplyShards), num(m.TotalBorrowShards), num(m.TotalCollateralShards),
		m.LastUpdate, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

func scanMarket(row scanner) (*domain.Market, error) {
	var (
		id, loan, collateral, oracle, irm string
		n                                 [15]string
		m                                 domain.Market
	)
	err := row.Scan(&id, &loan, &collateral, &oracle, &irm,
		&n[0], &n[1], &n[2], &n[3], &n[4], &n[5], &n[6], &n[7],
		&n[8], &n[9], &n[10], &n[11], &n[12], &n[13], &n[14],
		&m.LastUpdate, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	var p numParser
	m.ID = common.HexToHash(id)
	m.LoanToken = common.HexToAddress(loan)
	m.CollateralToken = common.HexToAddress(collateral)
	m.Oracle = common.HexToAddress(oracle)
	m.IRM = common.HexToAddress(irm)
	m.LLTV = p.parse(n[0])
	m.TotalSupplyShares = p.parse(n[1])
	m.TotalSupplyAssets = p.parse(n[2])
	m.TotalBorrowShares = p.parse(n[3])
	m.TotalBorrowAssets = p.parse(n[4])
	m.TotalCollateral = p.parse(n[5])
	m.TotalSupplyPoints = p.parse(n[6])
	m.TotalBorrowPoints = p.parse(n[7])
	m.TotalCollateralPoints = p.parse(n[8])
	m.SupplyPointsIndex = p.parse(n[9])
	m.BorrowPointsIndex = p.parse(n[10])
	m.CollateralPointsIndex = p.parse(n[11])
	m.TotalSupplyShards = p.parse(n[12])
	m.TotalBorrowShards = p.parse(n[13])
	m.TotalCollateralShards = p.parse(n[14])
	if p.err != nil {
		return nil, fmt.Errorf("market %s: %w", id, p.err)
	}
	return &m, nil
}

// GetMarket retrieves a market by id.
func (s *Store) GetMarket(ctx context.Context, id common.Hash) (*domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id.Hex()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market: %w", err)
	}
	return m, nil
}

// ListMarkets returns all markets ordered by id.
func (s *Store) ListMarkets(ctx context.Context) ([]*domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return collect(rows, scanMarket)
}

const marketPositionColumns = `
	id, market, user_address,
	supply_shares::text, borrow_shares::text, collateral::text,
	supply_points::text, borrow_points::text, collateral_points::text,
	last_supply_points_index::text, last_borrow_points_index::text, last_collateral_points_index::text,
	supply_shards::text, borrow_shards::text, collateral_shards::text,
	last_update`

func upsertMarketPosition(ctx context.Context, db execer, p *domain.MarketPosition) error {
	_, err := db.Exec(ctx, `
		INSERT INTO market_positions (
			id, market, user_address, supply_shares, borrow_shares, collateral,
			supply_points, borrow_points, collateral_points,
			last_supply_points_index, last_borrow_points_index, last_collateral_points_index,
			supply_shards, borrow_shards, collateral_shards, last_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET supply_shares = EXCLUDED.supply_shares,
		    borrow_shares = EXCLUDED.borrow_shares,
		    collateral = EXCLUDED.collateral,
		    supply_points = EXCLUDED.supply_points,
		    borrow_points = EXCLUDED.borrow_points,
		    collateral_points = EXCLUDED.collateral_points,
		    last_supply_points_index = EXCLUDED.last_supply_points_index,
		    last_borrow_points_index = EXCLUDED.last_borrow_points_index,
		    last_collateral_points_index = EXCLUDED.last_collateral_points_index,
		    supply_shards = EXCLUDED.supply_shards,
		    borrow_shards = EXCLUDED.borrow_shards,
		    collateral_shards = EXCLUDED.collateral_shards,
		    last_update = EXCLUDED.last_update
	`,
		p.ID, p.Market.Hex(), addr(p.User),
		num(p.SupplyShares), num(p.BorrowShares), num(p.Collateral),
		num(p.SupplyPoints), num(p.BorrowPoints), num(p.CollateralPoints),
		num(p.LastSupplyPointsIndex), num(p.LastBorrowPointsIndex), num(p.LastCollateralPointsIndex),
		num(p.SupplyShards), num(p.BorrowShards), num(p.CollateralShards),
		p.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("upsert market position %s: %w", p.ID, err)
	}
	return nil
}

func scanMarketPosition(row scanner) (*domain.MarketPosition, error) {
	var (
		market, user string
		n            [12]string
		pos          domain.MarketPosition
	)
	err := row.Scan(&pos.ID, &market, &user,
		&n[0], &n[1], &n[2], &n[3], &n[4], &n[5],
		&n[6], &n[7], &n[8], &n[9], &n[10], &n[11],
		&pos.LastUpdate)
	if err != nil {
		return nil, err
	}

	var p numParser
	pos.Market = common.HexToHash(market)
	pos.User = common.HexToAddress(user)
	pos.SupplyShares = p.parse(n[0])
	pos.BorrowShares = p.parse(n[1])
	pos.Collateral = p.parse(n[2])
	pos.SupplyPoints = p.parse(n[3])
	pos.BorrowPoints = p.parse(n[4])
	pos.CollateralPoints = p.parse(n[5])
	pos.LastSupplyPointsIndex = p.parse(n[6])
	pos.LastBorrowPointsIndex = p.parse(n[7])
	pos.LastCollateralPointsIndex = p.parse(n[8])
	pos.SupplyShards = p.parse(n[9])
	pos.BorrowShards = p.parse(n[10])
	pos.CollateralShards = p.parse(n[11])
	if p.err != nil {
		return nil, fmt.Errorf("market position %s: %w", pos.ID, p.err)
	}
	return &pos, nil
}

// GetMarketPosition retrieves a market position by id.
func (s *Store) GetMarketPosition(ctx context.Context, id string) (*domain.MarketPosition, error) {
	p, err := scanMarketPosition(s.pool.QueryRow(ctx,
		`SELECT `+marketPositionColumns+` FROM market_positions WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market position: %w", err)
	}
	return p, nil
}

// ListMarketPositionsByMarket returns a market's positions ordered by id.
func (s *Store) ListMarketPositionsByMarket(ctx context.Context, market common.Hash) ([]*domain.MarketPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketPositionColumns+` FROM market_positions WHERE market = $1 ORDER BY id ASC`, market.Hex())
	if err != nil {
		return nil, fmt.Errorf("list market positions by market: %w", err)
	}
	return collect(rows, scanMarketPosition)
}

// ListMarketPositionsByUser returns a user's positions ordered by id.
func (s *Store) ListMarketPositionsByUser(ctx context.Context, user common.Address) ([]*domain.MarketPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketPositionColumns+` FROM market_positions WHERE user_address = $1 ORDER BY id ASC`, addr(user))
	if err != nil {
		return nil, fmt.Errorf("list market positions by user: %w", err)
	}
	return collect(rows, scanMarketPosition)
}
