package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/accrual"
	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
)

// trackedMarket is a market loaded into an event's working set.
// prevUpdate is LastUpdate as it was before this event touched it.
type trackedMarket struct {
	m          *domain.Market
	prevUpdate int64
	isNew      bool
	dirty      bool
}

type trackedVault struct {
	v          *domain.Vault
	prevUpdate int64
	isNew      bool
	dirty      bool
}

type trackedMarketPosition struct {
	p          *domain.MarketPosition
	prevUpdate int64
	isNew      bool
	dirty      bool
}

type trackedVaultPosition struct {
	p          *domain.VaultPosition
	prevUpdate int64
	isNew      bool
	dirty      bool
}

// workingSet is the unit of work for one upstream event. Entities are loaded
// once, mutated in place and staged into a single ChangeSet at the end.
type workingSet struct {
	ctx   context.Context
	store storage.StateReader

	markets         map[common.Hash]*trackedMarket
	vaults          map[common.Address]*trackedVault
	marketPositions map[string]*trackedMarketPosition
	vaultPositions  map[string]*trackedVaultPosition

	// first-touch order keeps the change set deterministic
	marketOrder         []common.Hash
	vaultOrder          []common.Address
	marketPositionOrder []string
	vaultPositionOrder  []string

	morphoTxs     []*domain.MorphoTx
	metaMorphoTxs []*domain.MetaMorphoTx

	config       *domain.ProtocolConfig
	configLoaded bool
	configDirty  bool

	snapshots    storage.SnapshotSet
	snapshotSeen map[string]int
}

func newWorkingSet(ctx context.Context, store storage.StateReader) *workingSet {
	return &workingSet{
		ctx:             ctx,
		store:           store,
		markets:         make(map[common.Hash]*trackedMarket),
		vaults:          make(map[common.Address]*trackedVault),
		marketPositions: make(map[string]*trackedMarketPosition),
		vaultPositions:  make(map[string]*trackedVaultPosition),
		snapshotSeen:    make(map[string]int),
	}
}

// market loads a market that must exist.
func (ws *workingSet) market(id common.Hash) (*trackedMarket, error) {
	tm, ok, err := ws.lookupMarket(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id.Hex())
	}
	return tm, nil
}

func (ws *workingSet) lookupMarket(id common.Hash) (*trackedMarket, bool, error) {
	if tm, ok := ws.markets[id]; ok {
		return tm, true, nil
	}
	m, err := ws.store.GetMarket(ws.ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load market %s: %w", id.Hex(), err)
	}
	tm := &trackedMarket{m: m, prevUpdate: m.LastUpdate}
	ws.markets[id] = tm
	ws.marketOrder = append(ws.marketOrder, id)
	return tm, true, nil
}

func (ws *workingSet) addMarket(m *domain.Market) *trackedMarket {
	tm := &trackedMarket{m: m, prevUpdate: m.LastUpdate, isNew: true, dirty: true}
	ws.markets[m.ID] = tm
	ws.marketOrder = append(ws.marketOrder, m.ID)
	return tm
}

// vault loads a vault that must exist.
func (ws *workingSet) vault(id common.Address) (*trackedVault, error) {
	tv, ok, err := ws.lookupVault(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, id.Hex())
	}
	return tv, nil
}

// lookupVault loads a vault if it exists. Used to detect vault share tokens.
func (ws *workingSet) lookupVault(id common.Address) (*trackedVault, bool, error) {
	if tv, ok := ws.vaults[id]; ok {
		return tv, true, nil
	}
	v, err := ws.store.GetVault(ws.ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load vault %s: %w", id.Hex(), err)
	}
	tv := &trackedVault{v: v, prevUpdate: v.LastUpdate}
	ws.vaults[id] = tv
	ws.vaultOrder = append(ws.vaultOrder, id)
	return tv, true, nil
}

func (ws *workingSet) addVault(v *domain.Vault) *trackedVault {
	tv := &trackedVault{v: v, prevUpdate: v.LastUpdate, isNew: true, dirty: true}
	ws.vaults[v.ID] = tv
	ws.vaultOrder = append(ws.vaultOrder, v.ID)
	return tv
}

// marketPosition loads or creates a user's position. A created position is
// checkpointed to the market's current indices, so the market must be synced first.
func (ws *workingSet) marketPosition(tm *trackedMarket, user common.Address) (*trackedMarketPosition, error) {
	id := idhash.MarketPositionID(user, tm.m.ID)
	if tp, ok := ws.marketPositions[id]; ok {
		return tp, nil
	}

	var tp *trackedMarketPosition
	p, err := ws.store.GetMarketPosition(ws.ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = domain.NewMarketPosition(id, tm.m.ID, user)
		accrual.CheckpointMarketPosition(p, tm.m)
		tp = &trackedMarketPosition{p: p, prevUpdate: p.LastUpdate, isNew: true}
	case err != nil:
		return nil, fmt.Errorf("load market position %s: %w", id, err)
	default:
		tp = &trackedMarketPosition{p: p, prevUpdate: p.LastUpdate}
	}

	ws.marketPositions[id] = tp
	ws.marketPositionOrder = append(ws.marketPositionOrder, id)
	return tp, nil
}

// vaultPosition loads or creates a user's vault position.
func (ws *workingSet) vaultPosition(tv *trackedVault, user common.Address) (*trackedVaultPosition, error) {
	id := idhash.VaultPositionID(user, tv.v.ID)
	if tp, ok := ws.vaultPositions[id]; ok {
		return tp, nil
	}

	var tp *trackedVaultPosition
	p, err := ws.store.GetVaultPosition(ws.ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = domain.NewVaultPosition(id, tv.v.ID, user)
		accrual.CheckpointVaultPosition(p, tv.v)
		tp = &trackedVaultPosition{p: p, prevUpdate: p.LastUpdate, isNew: true}
	case err != nil:
		return nil, fmt.Errorf("load vault position %s: %w", id, err)
	default:
		tp = &trackedVaultPosition{p: p, prevUpdate: p.LastUpdate}
	}

	ws.vaultPositions[id] = tp
	ws.vaultPositionOrder = append(ws.vaultPositionOrder, id)
	return tp, nil
}

// protocolConfig returns the protocol config, or an empty one if never written.
func (ws *workingSet) protocolConfig() (*domain.ProtocolConfig, error) {
	if ws.configLoaded {
		return ws.config, nil
	}
	cfg, err := ws.store.GetProtocolConfig(ws.ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cfg = &domain.ProtocolConfig{}
	case err != nil:
		return nil, fmt.Errorf("load protocol config: %w", err)
	}
	ws.config = cfg
	ws.configLoaded = true
	return cfg, nil
}

func (ws *workingSet) setFeeRecipient(recipient common.Address, ts int64) error {
	cfg, err := ws.protocolConfig()
	if err != nil {
		return err
	}
	r := recipient
	cfg.FeeRecipient = &r
	cfg.UpdatedAt = ts
	ws.configDirty = true
	return nil
}

func (ws *workingSet) recordMorphoTx(tx *domain.MorphoTx) {
	ws.morphoTxs = append(ws.morphoTxs, tx)
}

func (ws *workingSet) recordMetaMorphoTx(tx *domain.MetaMorphoTx) {
	ws.metaMorphoTxs = append(ws.metaMorphoTxs, tx)
}

// changeSet stages every dirty entity and all records of the event.
func (ws *workingSet) changeSet() *storage.ChangeSet {
	cs := &storage.ChangeSet{
		MorphoTxs:     ws.morphoTxs,
		MetaMorphoTxs: ws.metaMorphoTxs,
		Snapshots:     ws.snapshots,
	}
	for _, id := range ws.marketOrder {
		if tm := ws.markets[id]; tm.dirty {
			cs.Markets = append(cs.Markets, tm.m)
		}
	}
	for _, id := range ws.vaultOrder {
		if tv := ws.vaults[id]; tv.dirty {
			cs.Vaults = append(cs.Vaults, tv.v)
		}
	}
	for _, id := range ws.marketPositionOrder {
		if tp := ws.marketPositions[id]; tp.dirty {
			cs.MarketPositions = append(cs.MarketPositions, tp.p)
		}
	}
	for _, id := range ws.vaultPositionOrder {
		if tp := ws.vaultPositions[id]; tp.dirty {
			cs.VaultPositions = append(cs.VaultPositions, tp.p)
		}
	}
	if ws.configDirty {
		cs.Config = ws.config
	}
	return cs
}
