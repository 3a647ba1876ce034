// Package leveldb is an embedded storage.Store for single-node deployments.
// Values are JSON documents; secondary indexes are empty-valued keys whose
// byte order gives the listing order.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
)

// Key prefixes
const (
	prefixMarket              = "m/"
	prefixVault               = "v/"
	prefixMarketPosition      = "mp/"
	prefixMarketPositionByM   = "mpm/"
	prefixMarketPositionByU   = "mpu/"
	prefixVaultPosition       = "vp/"
	prefixVaultPositionByV    = "vpv/"
	prefixVaultPositionByU    = "vpu/"
	prefixMorphoTx            = "tm/"
	prefixMorphoTxByMarket    = "tmm/"
	prefixMetaMorphoTx        = "tv/"
	prefixMetaMorphoTxByVault = "tvv/"
	prefixMarketSnapshot      = "sm/"
	prefixMPSnapshot          = "smp/"
	prefixVaultSnapshot       = "sv/"
	prefixVPSnapshot          = "svp/"

	keyConfig     = "config"
	keyCheckpoint = "checkpoint"
)

// Store implements storage.Store and storage.SnapshotStore on LevelDB.
type Store struct {
	mu sync.Mutex // serializes writers; LevelDB handles concurrent readers
	db *leveldb.DB
}

// Compile-time interface checks.
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Open opens (or creates) a store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("leveldb path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply writes the change set as one synced batch. Any duplicate tx id fails
// the entire set with ErrDuplicateKey.
func (s *Store) Apply(_ context.Context, cs *storage.ChangeSet) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range cs.MorphoTxs {
		if exists, err := s.db.Has([]byte(prefixMorphoTx+tx.ID), nil); err != nil {
			return fmt.Errorf("check morpho tx: %w", err)
		} else if exists {
			return fmt.Errorf("%w: morpho tx %s", storage.ErrDuplicateKey, tx.ID)
		}
	}
	for _, tx := range cs.MetaMorphoTxs {
		if exists, err := s.db.Has([]byte(prefixMetaMorphoTx+tx.ID), nil); err != nil {
			return fmt.Errorf("check meta morpho tx: %w", err)
		} else if exists {
			return fmt.Errorf("%w: meta morpho tx %s", storage.ErrDuplicateKey, tx.ID)
		}
	}

	b := new(batch)
	for _, m := range cs.Markets {
		b.put(prefixMarket+m.ID.Hex(), m)
	}
	for _, v := range cs.Vaults {
		b.put(prefixVault+idhash.AddressID(v.ID), v)
	}
	for _, p := range cs.MarketPositions {
		b.put(prefixMarketPosition+p.ID, p)
		b.index(prefixMarketPositionByM + p.Market.Hex() + "/" + p.ID)
		b.index(prefixMarketPositionByU + idhash.AddressID(p.User) + "/" + p.ID)
	}
	for _, p := range cs.VaultPositions {
		b.put(prefixVaultPosition+p.ID, p)
		b.index(prefixVaultPositionByV + idhash.AddressID(p.Vault) + "/" + p.ID)
		b.index(prefixVaultPositionByU + idhash.AddressID(p.User) + "/" + p.ID)
	}
	for _, tx := range cs.MorphoTxs {
		b.put(prefixMorphoTx+tx.ID, tx)
		b.index(prefixMorphoTxByMarket + tx.Market.Hex() + "/" + chainOrder(tx.Provenance) + tx.ID)
	}
	for _, tx := range cs.MetaMorphoTxs {
		b.put(prefixMetaMorphoTx+tx.ID, tx)
		b.index(prefixMetaMorphoTxByVault + idhash.AddressID(tx.Vault) + "/" + chainOrder(tx.Provenance) + tx.ID)
	}
	if cs.Config != nil {
		b.put(keyConfig, cs.Config)
	}
	if cs.Checkpoint != nil {
		b.put(keyCheckpoint, cs.Checkpoint)
	}
	if err := s.stageSnapshots(b, &cs.Snapshots); err != nil {
		return err
	}

	return b.write(s.db)
}

// chainOrder renders provenance so that byte order is chain order.
func chainOrder(p domain.Provenance) string {
	return fmt.Sprintf("%020d/%020d/%020d/", p.BlockNumber, p.TxIndex, p.LogIndex)
}

// batch collects writes and the first encoding error.
type batch struct {
	b   leveldb.Batch
	err error
}

func (b *batch) put(key string, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	b.b.Put([]byte(key), data)
}

func (b *batch) index(key string) {
	b.b.Put([]byte(key), nil)
}

func (b *batch) write(db *leveldb.DB) error {
	if b.err != nil {
		return b.err
	}
	if err := db.Write(&b.b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// get decodes the value at key into v.
func (s *Store) get(key string, v any) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", storage.ErrCorruptRecord, key, err)
	}
	return nil
}

// scan decodes every value under prefix in key order.
func scan[T any](db *leveldb.DB, prefix string) ([]*T, error) {
	iter := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var result []*T
	for iter.Next() {
		item := new(T)
		if err := json.Unmarshal(iter.Value(), item); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorruptRecord, iter.Key(), err)
		}
		result = append(result, item)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return result, nil
}

// lookup resolves index keys under prefix to the values they point at.
// The last path segment of an index key is the target id.
func lookup[T any](s *Store, indexPrefix, valuePrefix string) ([]*T, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(indexPrefix)), nil)
	defer iter.Release()

	var result []*T
	for iter.Next() {
		key := string(iter.Key())
		id := key[lastSlash(key)+1:]
		item := new(T)
		if err := s.get(valuePrefix+id, item); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", indexPrefix, err)
	}
	return result, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// GetMarket retrieves a market by id.
func (s *Store) GetMarket(_ context.Context, id common.Hash) (*domain.Market, error) {
	var m domain.Market
	if err := s.get(prefixMarket+id.Hex(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMarkets returns all markets ordered by id.
func (s *Store) ListMarkets(_ context.Context) ([]*domain.Market, error) {
	return scan[domain.Market](s.db, prefixMarket)
}

// GetVault retrieves a vault by address.
func (s *Store) GetVault(_ context.Context, id common.Address) (*domain.Vault, error) {
	var v domain.Vault
	if err := s.get(prefixVault+idhash.AddressID(id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVaults returns all vaults ordered by address.
func (s *Store) ListVaults(_ context.Context) ([]*domain.Vault, error) {
	return scan[domain.Vault](s.db, prefixVault)
}

// GetMarketPosition retrieves a market position by id.
func (s *Store) GetMarketPosition(_ context.Context, id string) (*domain.MarketPosition, error) {
	var p domain.MarketPosition
	if err := s.get(prefixMarketPosition+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListMarketPositionsByMarket returns a market's positions ordered by id.
func (s *Store) ListMarketPositionsByMarket(_ context.Context, market common.Hash) ([]*domain.MarketPosition, error) {
	return lookup[domain.MarketPosition](s, prefixMarketPositionByM+market.Hex()+"/", prefixMarketPosition)
}

// ListMarketPositionsByUser returns a user's positions ordered by id.
func (s *Store) ListMarketPositionsByUser(_ context.Context, user common.Address) ([]*domain.MarketPosition, error) {
	return lookup[domain.MarketPosition](s, prefixMarketPositionByU+idhash.AddressID(user)+"/", prefixMarketPosition)
}

// GetVaultPosition retrieves a vault position by id.
func (s *Store) GetVaultPosition(_ context.Context, id string) (*domain.VaultPosition, error) {
	var p domain.VaultPosition
	if err := s.get(prefixVaultPosition+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListVaultPositionsByVault returns a vault's positions ordered by id.
func (s *Store) ListVaultPositionsByVault(_ context.Context, vault common.Address) ([]*domain.VaultPosition, error) {
	return lookup[domain.VaultPosition](s, prefixVaultPositionByV+idhash.AddressID(vault)+"/", prefixVaultPosition)
}

// ListVaultPositionsByUser returns a user's vault positions ordered by id.
func (s *Store) ListVaultPositionsByUser(_ context.Context, user common.Address) ([]*domain.VaultPosition, error) {
	return lookup[domain.VaultPosition](s, prefixVaultPositionByU+idhash.AddressID(user)+"/", prefixVaultPosition)
}

// GetMorphoTx retrieves a market transaction by id.
func (s *Store) GetMorphoTx(_ context.Context, id string) (*domain.MorphoTx, error) {
	var tx domain.MorphoTx
	if err := s.get(prefixMorphoTx+id, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListMorphoTxsByMarket returns a market's transactions in chain order.
func (s *Store) ListMorphoTxsByMarket(_ context.Context, market common.Hash) ([]*domain.MorphoTx, error) {
	return lookup[domain.MorphoTx](s, prefixMorphoTxByMarket+market.Hex()+"/", prefixMorphoTx)
}

// GetMetaMorphoTx retrieves a vault transaction by id.
func (s *Store) GetMetaMorphoTx(_ context.Context, id string) (*domain.MetaMorphoTx, error) {
	var tx domain.MetaMorphoTx
	if err := s.get(prefixMetaMorphoTx+id, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListMetaMorphoTxsByVault returns a vault's transactions in chain order.
func (s *Store) ListMetaMorphoTxsByVault(_ context.Context, vault common.Address) ([]*domain.MetaMorphoTx, error) {
	return lookup[domain.MetaMorphoTx](s, prefixMetaMorphoTxByVault+idhash.AddressID(vault)+"/", prefixMetaMorphoTx)
}

// GetProtocolConfig returns the protocol config.
func (s *Store) GetProtocolConfig(_ context.Context) (*domain.ProtocolConfig, error) {
	var cfg domain.ProtocolConfig
	if err := s.get(keyConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetCheckpoint returns the last applied event position.
func (s *Store) GetCheckpoint(_ context.Context) (*storage.Checkpoint, error) {
	var cp storage.Checkpoint
	if err := s.get(keyCheckpoint, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
