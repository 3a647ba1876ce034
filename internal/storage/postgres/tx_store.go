package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

const txColumns = `id, type, %s, user_address, shares::text, assets::text, timestamp,
	tx_hash, tx_index, log_index, block_number`

var (
	morphoTxColumns     = fmt.Sprintf(txColumns, "market")
	metaMorphoTxColumns = fmt.Sprintf(txColumns, "vault")
)

// insertMorphoTx adds a market transaction. Returns ErrDuplicateKey if the id exists.
func insertMorphoTx(ctx context.Context, db execer, t *domain.MorphoTx) error {
	_, err := db.Exec(ctx, `
		INSERT INTO morpho_txs (
			id, type, market, user_address, shares, assets, timestamp, tx_hash, tx_index, log_index, block_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		t.ID, t.Type.String(), t.Market.Hex(), addr(t.User), num(t.Shares), num(t.Assets), t.Timestamp,
		t.TxHash.Hex(), t.TxIndex, t.LogIndex, t.BlockNumber,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: morpho tx %s", storage.ErrDuplicateKey, t.ID)
		}
		return fmt.Errorf("insert morpho tx: %w", err)
	}
	return nil
}

// insertMetaMorphoTx adds a vault transaction. Returns ErrDuplicateKey if the id exists.
func insertMetaMorphoTx(ctx context.Context, db execer, t *domain.MetaMorphoTx) error {
	_, err := db.Exec(ctx, `
		INSERT INTO meta_morpho_txs (
			id, type, vault, user_address, shares, assets, timestamp, tx_hash, tx_index, log_index, block_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		t.ID, t.Type.String(), addr(t.Vault), addr(t.User), num(t.Shares), num(t.Assets), t.Timestamp,
		t.TxHash.Hex(), t.TxIndex, t.LogIndex, t.BlockNumber,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: meta morpho tx %s", storage.ErrDuplicateKey, t.ID)
		}
		return fmt.Errorf("insert meta morpho tx: %w", err)
	}
	return nil
}

func scanMorphoTx(row scanner) (*domain.MorphoTx, error) {
	var (
		typ, market, user, shares, assets, txHash string
		t                                         domain.MorphoTx
	)
	err := row.Scan(&t.ID, &typ, &market, &user, &shares, &assets, &t.Timestamp,
		&txHash, &t.TxIndex, &t.LogIndex, &t.BlockNumber)
	if err != nil {
		return nil, err
	}

	var p numParser
	t.Type = domain.TxType(typ)
	t.Market = common.HexToHash(market)
	t.User = common.HexToAddress(user)
	t.Shares = p.parse(shares)
	t.Assets = p.parse(assets)
	t.TxHash = common.HexToHash(txHash)
	if p.err != nil {
		return nil, fmt.Errorf("morpho tx %s: %w", t.ID, p.err)
	}
	return &t, nil
}

func scanMetaMorphoTx(row scanner) (*domain.MetaMorphoTx, error) {
	var (
		typ, vault, user, shares, assets, txHash string
		t                                        domain.MetaMorphoTx
	)
	err := row.Scan(&t.ID, &typ, &vault, &user, &shares, &assets, &t.Timestamp,
		&txHash, &t.TxIndex, &t.LogIndex, &t.BlockNumber)
	if err != nil {
		return nil, err
	}

	var p numParser
	t.Type = domain.VaultTxType(typ)
	t.Vault = common.HexToAddress(vault)
	t.User = common.HexToAddress(user)
	t.Shares = p.parse(shares)
	t.Assets = p.parse(assets)
	t.TxHash = common.HexToHash(txHash)
	if p.err != nil {
		return nil, fmt.Errorf("meta morpho tx %s: %w", t.ID, p.err)
	}
	return &t, nil
}

// GetMorphoTx retrieves a market transaction by id.
func (s *Store) GetMorphoTx(ctx context.Context, id string) (*domain.MorphoTx, error) {
	t, err := scanMorphoTx(s.pool.QueryRow(ctx, `SELECT `+morphoTxColumns+` FROM morpho_txs WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get morpho tx: %w", err)
	}
	return t, nil
}

// ListMorphoTxsByMarket returns a market's transactions in chain order.
func (s *Store) ListMorphoTxsByMarket(ctx context.Context, market common.Hash) ([]*domain.MorphoTx, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+morphoTxColumns+`
		FROM morpho_txs
		WHERE market = $1
		ORDER BY block_number ASC, tx_index ASC, log_index ASC, id ASC
	`, market.Hex())
	if err != nil {
		return nil, fmt.Errorf("list morpho txs: %w", err)
	}
	return collect(rows, scanMorphoTx)
}

// GetMetaMorphoTx retrieves a vault transaction by id.
func (s *Store) GetMetaMorphoTx(ctx context.Context, id string) (*domain.MetaMorphoTx, error) {
	t, err := scanMetaMorphoTx(s.pool.QueryRow(ctx, `SELECT `+metaMorphoTxColumns+` FROM meta_morpho_txs WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get meta morpho tx: %w", err)
	}
	return t, nil
}

// ListMetaMorphoTxsByVault returns a vault's transactions in chain order.
func (s *Store) ListMetaMorphoTxsByVault(ctx context.Context, vault common.Address) ([]*domain.MetaMorphoTx, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metaMorphoTxColumns+`
		FROM meta_morpho_txs
		WHERE vault = $1
		ORDER BY block_number ASC, tx_index ASC, log_index ASC, id ASC
	`, addr(vault))
	if err != nil {
		return nil, fmt.Errorf("list meta morpho txs: %w", err)
	}
	return collect(rows, scanMetaMorphoTx)
}
