package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// WriteSnapshots upserts a snapshot set in one transaction.
func (s *Store) WriteSnapshots(ctx context.Context, set *storage.SnapshotSet) (err error) {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.IsEmpty() {
		return nil
	}
	start := time.Now()
	defer func() { observe("write_snapshots", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := writeSnapshots(ctx, tx, set); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// writeSnapshots upserts every snapshot. A row written without a previous
// link keeps the link it already has.
func writeSnapshots(ctx context.Context, db execer, set *storage.SnapshotSet) error {
	for _, sn := range set.Markets {
		_, err := db.Exec(ctx, `
			INSERT INTO market_snapshots (
				id, previous_snapshot, market, timestamp, block_number,
				total_supply_shares, total_borrow_shares, total_collateral,
				total_supply_points, total_borrow_points, total_collateral_points,
				supply_points_index, borrow_points_index, collateral_points_index
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE
			SET previous_snapshot = COALESCE(EXCLUDED.previous_snapshot, market_snapshots.previous_snapshot),
			    block_number = EXCLUDED.block_number,
			    total_supply_shares = EXCLUDED.total_supply_shares,
			    total_borrow_shares = EXCLUDED.total_borrow_shares,
			    total_collateral = EXCLUDED.total_collateral,
			    total_supply_points = EXCLUDED.total_supply_points,
			    total_borrow_points = EXCLUDED.total_borrow_points,
			    total_collateral_points = EXCLUDED.total_collateral_points,
			    supply_points_index = EXCLUDED.supply_points_index,
			    borrow_points_index = EXCLUDED.borrow_points_index,
			    collateral_points_index = EXCLUDED.collateral_points_index
		`,
			sn.ID, sn.PreviousSnapshot, sn.Market.Hex(), sn.Timestamp, sn.BlockNumber,
			num(sn.TotalSupplyShares), num(sn.TotalBorrowShares), num(sn.TotalCollateral),
			num(sn.TotalSupplyPoints), num(sn.TotalBorrowPoints), num(sn.TotalCollateralPoints),
			num(sn.SupplyPointsIndex), num(sn.BorrowPointsIndex), num(sn.CollateralPointsIndex),
		)
		if err != nil {
			return fmt.Errorf("upsert market snapshot %s: %w", sn.ID, err)
		}
	}

	for _, sn := range set.MarketPositions {
		_, err := db.Exec(ctx, `
			INSERT INTO market_position_snapshots (
				id, previous_snapshot, position, market_snapshot, timestamp, block_number,
				supply_shares, borrow_shares, collateral, supply_points, borrow_points, collateral_points
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE
			SET previous_snapshot = COALESCE(EXCLUDED.previous_snapshot, market_position_snapshots.previous_snapshot),
			    market_snapshot = EXCLUDED.market_snapshot,
			    block_number = EXCLUDED.block_number,
			    supply_shares = EXCLUDED.supply_shares,
			    borrow_shares = EXCLUDED.borrow_shares,
			    collateral = EXCLUDED.collateral,
			    supply_points = EXCLUDED.supply_points,
			    borrow_points = EXCLUDED.borrow_points,
			    collateral_points = EXCLUDED.collateral_points
		`,
			sn.ID, sn.PreviousSnapshot, sn.Position, sn.MarketSnapshot, sn.Timestamp, sn.BlockNumber,
			num(sn.SupplyShares), num(sn.BorrowShares), num(sn.Collateral),
			num(sn.SupplyPoints), num(sn.BorrowPoints), num(sn.CollateralPoints),
		)
		if err != nil {
			return fmt.Errorf("upsert market position snapshot %s: %w", sn.ID, err)
		}
	}

	for _, sn := range set.Vaults {
		_, err := db.Exec(ctx, `
			INSERT INTO vault_snapshots (
				id, previous_snapshot, vault, timestamp, block_number, total_shares, total_points, points_index
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET previous_snapshot = COALESCE(EXCLUDED.previous_snapshot, vault_snapshots.previous_snapshot),
			    block_number = EXCLUDED.block_number,
			    total_shares = EXCLUDED.total_shares,
			    total_points = EXCLUDED.total_points,
			    points_index = EXCLUDED.points_index
		`,
			sn.ID, sn.PreviousSnapshot, addr(sn.Vault), sn.Timestamp, sn.BlockNumber,
			num(sn.TotalShares), num(sn.TotalPoints), num(sn.PointsIndex),
		)
		if err != nil {
			return fmt.Errorf("upsert vault snapshot %s: %w", sn.ID, err)
		}
	}

	for _, sn := range set.VaultPositions {
		_, err := db.Exec(ctx, `
			INSERT INTO vault_position_snapshots (
				id, previous_snapshot, position, vault_snapshot, timestamp, block_number, shares, supply_points
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET previous_snapshot = COALESCE(EXCLUDED.previous_snapshot, vault_position_snapshots.previous_snapshot),
			    vault_snapshot = EXCLUDED.vault_snapshot,
			    block_number = EXCLUDED.block_number,
			    shares = EXCLUDED.shares,
			    supply_points = EXCLUDED.supply_points
		`,
			sn.ID, sn.PreviousSnapshot, sn.Position, sn.VaultSnapshot, sn.Timestamp, sn.BlockNumber,
			num(sn.Shares), num(sn.SupplyPoints),
		)
		if err != nil {
			return fmt.Errorf("upsert vault position snapshot %s: %w", sn.ID, err)
		}
	}
	return nil
}

// GetMarketSnapshot retrieves a market snapshot by id.
func (s *Store) GetMarketSnapshot(ctx context.Context, id string) (*domain.MarketSnapshot, error) {
	var (
		market string
		n      [9]string
		sn     domain.MarketSnapshot
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, previous_snapshot, market, timestamp, block_number,
		       total_supply_shares::text, total_borrow_shares::text, total_collateral::text,
		       total_supply_points::text, total_borrow_points::text, total_collateral_points::text,
		       supply_points_index::text, borrow_points_index::text, collateral_points_index::text
		FROM market_snapshots WHERE id = $1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &market, &sn.Timestamp, &sn.BlockNumber,
		&n[0], &n[1], &n[2], &n[3], &n[4], &n[5], &n[6], &n[7], &n[8])
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market snapshot: %w", err)
	}

	var p numParser
	sn.Market = common.HexToHash(market)
	sn.TotalSupplyShares = p.parse(n[0])
	sn.TotalBorrowShares = p.parse(n[1])
	sn.TotalCollateral = p.parse(n[2])
	sn.TotalSupplyPoints = p.parse(n[3])
	sn.TotalBorrowPoints = p.parse(n[4])
	sn.TotalCollateralPoints = p.parse(n[5])
	sn.SupplyPointsIndex = p.parse(n[6])
	sn.BorrowPointsIndex = p.parse(n[7])
	sn.CollateralPointsIndex = p.parse(n[8])
	if p.err != nil {
		return nil, fmt.Errorf("market snapshot %s: %w", id, p.err)
	}
	return &sn, nil
}

// GetMarketPositionSnapshot retrieves a market position snapshot by id.
func (s *Store) GetMarketPositionSnapshot(ctx context.Context, id string) (*domain.MarketPositionSnapshot, error) {
	var (
		n  [6]string
		sn domain.MarketPositionSnapshot
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, previous_snapshot, position, market_snapshot, timestamp, block_number,
		       supply_shares::text, borrow_shares::text, collateral::text,
		       supply_points::text, borrow_points::text, collateral_points::text
		FROM market_position_snapshots WHERE id = $1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &sn.Position, &sn.MarketSnapshot, &sn.Timestamp, &sn.BlockNumber,
		&n[0], &n[1], &n[2], &n[3], &n[4], &n[5])
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market position snapshot: %w", err)
	}

	var p numParser
	sn.SupplyShares = p.parse(n[0])
	sn.BorrowShares = p.parse(n[1])
	sn.Collateral = p.parse(n[2])
	sn.SupplyPoints = p.parse(n[3])
	sn.BorrowPoints = p.parse(n[4])
	sn.CollateralPoints = p.parse(n[5])
	if p.err != nil {
		return nil, fmt.Errorf("market position snapshot %s: %w", id, p.err)
	}
	return &sn, nil
}

// GetVaultSnapshot retrieves a vault snapshot by id.
func (s *Store) GetVaultSnapshot(ctx context.Context, id string) (*domain.VaultSnapshot, error) {
	var (
		vault string
		n     [3]string
		sn    domain.VaultSnapshot
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, previous_snapshot, vault, timestamp, block_number,
		       total_shares::text, total_points::text, points_index::text
		FROM vault_snapshots WHERE id = $1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &vault, &sn.Timestamp, &sn.BlockNumber, &n[0], &n[1], &n[2])
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault snapshot: %w", err)
	}

	var p numParser
	sn.Vault = common.HexToAddress(vault)
	sn.TotalShares = p.parse(n[0])
	sn.TotalPoints = p.parse(n[1])
	sn.PointsIndex = p.parse(n[2])
	if p.err != nil {
		return nil, fmt.Errorf("vault snapshot %s: %w", id, p.err)
	}
	return &sn, nil
}

// GetVaultPositionSnapshot retrieves a vault position snapshot by id.
func (s *Store) GetVaultPositionSnapshot(ctx context.Context, id string) (*domain.VaultPositionSnapshot, error) {
	var (
		shares, points string
		sn             domain.VaultPositionSnapshot
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, previous_snapshot, position, vault_snapshot, timestamp, block_number,
		       shares::text, supply_points::text
		FROM vault_position_snapshots WHERE id = $1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &sn.Position, &sn.VaultSnapshot, &sn.Timestamp, &sn.BlockNumber,
		&shares, &points)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault position snapshot: %w", err)
	}

	var p numParser
	sn.Shares = p.parse(shares)
	sn.SupplyPoints = p.parse(points)
	if p.err != nil {
		return nil, fmt.Errorf("vault position snapshot %s: %w", id, p.err)
	}
	return &sn, nil
}
