package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

const vaultColumns = `
	id, asset, fee_recipient,
	total_shares::text, total_assets::text, total_points::text, points_index::text, total_shards::text,
	last_update, created_at`

func upsertVault(ctx context.Context, db execer, v *domain.Vault) error {
	_, err := db.Exec(ctx, `
		INSERT INTO vaults (
			id, asset, fee_recipient, total_shares, total_assets, total_points, points_index, total_shards,
			last_update, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET fee_recipient = EXCLUDED.fee_recipient,
		    total_shares = EXCLUDED.total_shares,
		    total_assets = EXCLUDED.total_assets,
		    total_points = EXCLUDED.total_points,
		    points_index = EXCLUDED.points_index,
		    total_shards = EXCLUDED.total_shards,
		    last_update = EXCLUDED.last_update
	`,
		addr(v.ID), addr(v.Asset), optionalAddr(v.FeeRecipient),
		num(v.TotalShares), num(v.TotalAssets), num(v.TotalPoints), num(v.PointsIndex), num(v.TotalShards),
		v.LastUpdate, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert vault %s: %w", addr(v.ID), err)
	}
	return nil
}

func scanVault(row scanner) (*domain.Vault, error) {
	var (
		id, asset string
		recipient *string
		n         [5]string
		v         domain.Vault
	)
	err := row.Scan(&id, &asset, &recipient, &n[0], &n[1], &n[2], &n[3], &n[4], &v.LastUpdate, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	var p numParser
	v.ID = common.HexToAddress(id)
	v.Asset = common.HexToAddress(asset)
	v.FeeRecipient = parseOptionalAddr(recipient)
	v.TotalShares = p.parse(n[0])
	v.TotalAssets = p.parse(n[1])
	v.TotalPoints = p.parse(n[2])
	v.PointsIndex = p.parse(n[3])
	v.TotalShards = p.parse(n[4])
	if p.err != nil {
		return nil, fmt.Errorf("vault %s: %w", id, p.err)
	}
	return &v, nil
}

// GetVault retrieves a vault by address.
func (s *Store) GetVault(ctx context.Context, id common.Address) (*domain.Vault, error) {
	v, err := scanVault(s.pool.QueryRow(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE id = $1`, addr(id)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault: %w", err)
	}
	return v, nil
}

// ListVaults returns all vaults ordered by address.
func (s *Store) ListVaults(ctx context.Context) ([]*domain.Vault, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vaultColumns+` FROM vaults ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	return collect(rows, scanVault)
}

const vaultPositionColumns = `
	id, vault, user_address,
	shares::text, supply_points::text, last_supply_points_index::text, supply_shards::text,
	last_update`

func upsertVaultPosition(ctx context.Context, db execer, p *domain.VaultPosition) error {
	_, err := db.Exec(ctx, `
		INSERT INTO vault_positions (
			id, vault, user_address, shares, supply_points, last_supply_points_index, supply_shards, last_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET shares = EXCLUDED.shares,
		    supply_points = EXCLUDED.supply_points,
		    last_supply_points_index = EXCLUDED.last_supply_points_index,
		    supply_shards = EXCLUDED.supply_shards,
		    last_update = EXCLUDED.last_update
	`,
		p.ID, addr(p.Vault), addr(p.User),
		num(p.Shares), num(p.SupplyPoints), num(p.LastSupplyPointsIndex), num(p.SupplyShards),
		p.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("upsert vault position %s: %w", p.ID, err)
	}
	return nil
}

func scanVaultPosition(row scanner) (*domain.VaultPosition, error) {
	var (
		vault, user string
		n           [4]string
		pos         domain.VaultPosition
	)
	err := row.Scan(&pos.ID, &vault, &user, &n[0], &n[1], &n[2], &n[3], &pos.LastUpdate)
	if err != nil {
		return nil, err
	}

	var p numParser
	pos.Vault = common.HexToAddress(vault)
	pos.User = common.HexToAddress(user)
	pos.Shares = p.parse(n[0])
	pos.SupplyPoints = p.parse(n[1])
	pos.LastSupplyPointsIndex = p.parse(n[2])
	pos.SupplyShards = p.parse(n[3])
	if p.err != nil {
		return nil, fmt.Errorf("vault position %s: %w", pos.ID, p.err)
	}
	return &pos, nil
}

// GetVaultPosition retrieves a vault position by id.
func (s *Store) GetVaultPosition(ctx context.Context, id string) (*domain.VaultPosition, error) {
	p, err := scanVaultPosition(s.pool.QueryRow(ctx,
		`SELECT `+vaultPositionColumns+` FROM vault_positions WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault position: %w", err)
	}
	return p, nil
}

// ListVaultPositionsByVault returns a vault's positions ordered by id.
func (s *Store) ListVaultPositionsByVault(ctx context.Context, vault common.Address) ([]*domain.VaultPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vaultPositionColumns+` FROM vault_positions WHERE vault = $1 ORDER BY id ASC`, addr(vault))
	if err != nil {
		return nil, fmt.Errorf("list vault positions by vault: %w", err)
	}
	return collect(rows, scanVaultPosition)
}

// ListVaultPositionsByUser returns a user's vault positions ordered by id.
func (s *Store) ListVaultPositionsByUser(ctx context.Context, user common.Address) ([]*domain.VaultPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vaultPositionColumns+` FROM vault_positions WHERE user_address = $1 ORDER BY id ASC`, addr(user))
	if err != nil {
		return nil, fmt.Errorf("list vault positions by user: %w", err)
	}
	return collect(rows, scanVaultPosition)
}
