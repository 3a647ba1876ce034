package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/observability"
	"morpho-points/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// Rewrites insert a new row version; reads return the latest version.
type SnapshotStore struct {
	conn *Conn
	now  func() time.Time
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// WriteSnapshots inserts one batch per table. A snapshot without a previous
// link inherits the link of the row it replaces.
func (s *SnapshotStore) WriteSnapshots(ctx context.Context, set *storage.SnapshotSet) (err error) {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.IsEmpty() {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "write_snapshots", time.Since(start).Seconds(), err)
	}()

	version := uint64(s.now().UnixNano())

	if len(set.Markets) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO market_snapshots`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		for _, sn := range set.Markets {
			link, err := s.link(ctx, "market_snapshots", sn.ID, sn.PreviousSnapshot)
			if err != nil {
				return err
			}
			err = batch.Append(
				sn.ID, link, sn.Market.Hex(), sn.Timestamp, sn.BlockNumber,
				val(sn.TotalSupplyShares), val(sn.TotalBorrowShares), val(sn.TotalCollateral),
				val(sn.TotalSupplyPoints), val(sn.TotalBorrowPoints), val(sn.TotalCollateralPoints),
				val(sn.SupplyPointsIndex), val(sn.BorrowPointsIndex), val(sn.CollateralPointsIndex),
				version,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send market snapshots: %w", err)
		}
	}

	if len(set.MarketPositions) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO market_position_snapshots`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		for _, sn := range set.MarketPositions {
			link, err := s.link(ctx, "market_position_snapshots", sn.ID, sn.PreviousSnapshot)
			if err != nil {
				return err
			}
			err = batch.Append(
				sn.ID, link, sn.Position, sn.MarketSnapshot, sn.Timestamp, sn.BlockNumber,
				val(sn.SupplyShares), val(sn.BorrowShares), val(sn.Collateral),
				val(sn.SupplyPoints), val(sn.BorrowPoints), val(sn.CollateralPoints),
				version,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send market position snapshots: %w", err)
		}
	}

	if len(set.Vaults) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO vault_snapshots`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		for _, sn := range set.Vaults {
			link, err := s.link(ctx, "vault_snapshots", sn.ID, sn.PreviousSnapshot)
			if err != nil {
				return err
			}
			err = batch.Append(
				sn.ID, link, idhash.AddressID(sn.Vault), sn.Timestamp, sn.BlockNumber,
				val(sn.TotalShares), val(sn.TotalPoints), val(sn.PointsIndex),
				version,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send vault snapshots: %w", err)
		}
	}

	if len(set.VaultPositions) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO vault_position_snapshots`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		for _, sn := range set.VaultPositions {
			link, err := s.link(ctx, "vault_position_snapshots", sn.ID, sn.PreviousSnapshot)
			if err != nil {
				return err
			}
			err = batch.Append(
				sn.ID, link, sn.Position, sn.VaultSnapshot, sn.Timestamp, sn.BlockNumber,
				val(sn.Shares), val(sn.SupplyPoints),
				version,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send vault position snapshots: %w", err)
		}
	}

	return nil
}

// link resolves the previous link to store for id.
func (s *SnapshotStore) link(ctx context.Context, table, id string, incoming *string) (*string, error) {
	if incoming != nil {
		return incoming, nil
	}
	var existing *string
	err := s.conn.QueryRow(ctx,
		`SELECT previous_snapshot FROM `+table+` WHERE id = ? ORDER BY version DESC LIMIT 1`, id,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s link %s: %w", table, id, err)
	}
	return storage.KeepLink(existing, incoming), nil
}

func val(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// ints allocates destinations for Int256 columns.
func ints(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// GetMarketSnapshot retrieves the latest version of a market snapshot.
func (s *SnapshotStore) GetMarketSnapshot(ctx context.Context, id string) (*domain.MarketSnapshot, error) {
	var (
		market string
		n      = ints(9)
		sn     domain.MarketSnapshot
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, previous_snapshot, market, timestamp, block_number,
		       total_supply_shares, total_borrow_shares, total_collateral,
		       total_supply_points, total_borrow_points, total_collateral_points,
		       supply_points_index, borrow_points_index, collateral_points_index
		FROM market_snapshots
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &market, &sn.Timestamp, &sn.BlockNumber,
		n[0], n[1], n[2], n[3], n[4], n[5], n[6], n[7], n[8])
	if err != nil {
		return nil, notFound(err, "market snapshot")
	}

	sn.Market = common.HexToHash(market)
	sn.TotalSupplyShares, sn.TotalBorrowShares, sn.TotalCollateral = n[0], n[1], n[2]
	sn.TotalSupplyPoints, sn.TotalBorrowPoints, sn.TotalCollateralPoints = n[3], n[4], n[5]
	sn.SupplyPointsIndex, sn.BorrowPointsIndex, sn.CollateralPointsIndex = n[6], n[7], n[8]
	return &sn, nil
}

// GetMarketPositionSnapshot retrieves the latest version of a market position snapshot.
func (s *SnapshotStore) GetMarketPositionSnapshot(ctx context.Context, id string) (*domain.MarketPositionSnapshot, error) {
	var (
		n  = ints(6)
		sn domain.MarketPositionSnapshot
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, previous_snapshot, position, market_snapshot, timestamp, block_number,
		       supply_shares, borrow_shares, collateral, supply_points, borrow_points, collateral_points
		FROM market_position_snapshots
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &sn.Position, &sn.MarketSnapshot, &sn.Timestamp, &sn.BlockNumber,
		n[0], n[1], n[2], n[3], n[4], n[5])
	if err != nil {
		return nil, notFound(err, "market position snapshot")
	}

	sn.SupplyShares, sn.BorrowShares, sn.Collateral = n[0], n[1], n[2]
	sn.SupplyPoints, sn.BorrowPoints, sn.CollateralPoints = n[3], n[4], n[5]
	return &sn, nil
}

// GetVaultSnapshot retrieves the latest version of a vault snapshot.
func (s *SnapshotStore) GetVaultSnapshot(ctx context.Context, id string) (*domain.VaultSnapshot, error) {
	var (
		vault string
		n     = ints(3)
		sn    domain.VaultSnapshot
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, previous_snapshot, vault, timestamp, block_number, total_shares, total_points, points_index
		FROM vault_snapshots
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &vault, &sn.Timestamp, &sn.BlockNumber, n[0], n[1], n[2])
	if err != nil {
		return nil, notFound(err, "vault snapshot")
	}

	sn.Vault = common.HexToAddress(vault)
	sn.TotalShares, sn.TotalPoints, sn.PointsIndex = n[0], n[1], n[2]
	return &sn, nil
}

// GetVaultPositionSnapshot retrieves the latest version of a vault position snapshot.
func (s *SnapshotStore) GetVaultPositionSnapshot(ctx context.Context, id string) (*domain.VaultPositionSnapshot, error) {
	var (
		n  = ints(2)
		sn domain.VaultPositionSnapshot
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, previous_snapshot, position, vault_snapshot, timestamp, block_number, shares, supply_points
		FROM vault_position_snapshots
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`, id).Scan(&sn.ID, &sn.PreviousSnapshot, &sn.Position, &sn.VaultSnapshot, &sn.Timestamp, &sn.BlockNumber,
		n[0], n[1])
	if err != nil {
		return nil, notFound(err, "vault position snapshot")
	}

	sn.Shares, sn.SupplyPoints = n[0], n[1]
	return &sn, nil
}
