package engine

import (
	"fmt"
	"math/big"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
)

// Stage is one step of the per-transaction pipeline. Every normalized
// transaction runs all stages in this order.
type Stage int

const (
	StageSyncAggregate Stage = iota
	StageSyncPositions
	StageApplyDelta
	StageSnapshot
	StageCommit
)

var stageNames = [...]string{
	StageSyncAggregate: "SYNC_AGGREGATE",
	StageSyncPositions: "SYNC_POSITIONS",
	StageApplyDelta:    "APPLY_DELTA",
	StageSnapshot:      "SNAPSHOT",
	StageCommit:        "COMMIT",
}

// String returns the stage name.
func (s Stage) String() string {
	if int(s) < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageObserver is called before each stage with the transaction id.
type StageObserver func(stage Stage, txID string)

type marketStep struct {
	tx             *domain.MorphoTx
	market         *trackedMarket
	position       *trackedMarketPosition // nil for aggregate-only transactions
	marketSnapshot string
}

type vaultStep struct {
	tx            *domain.MetaMorphoTx
	vault         *trackedVault
	position      *trackedVaultPosition
	vaultSnapshot string
}

var marketPipeline = []struct {
	stage Stage
	run   func(*Engine, *workingSet, *marketStep) error
}{
	{StageSyncAggregate, (*Engine).syncMarket},
	{StageSyncPositions, (*Engine).syncMarketPosition},
	{StageApplyDelta, (*Engine).applyMarketDelta},
	{StageSnapshot, (*Engine).snapshotMarketStep},
	{StageCommit, (*Engine).commitMarketStep},
}

var vaultPipeline = []struct {
	stage Stage
	run   func(*Engine, *workingSet, *vaultStep) error
}{
	{StageSyncAggregate, (*Engine).syncVault},
	{StageSyncPositions, (*Engine).syncVaultPosition},
	{StageApplyDelta, (*Engine).applyVaultDelta},
	{StageSnapshot, (*Engine).snapshotVaultStep},
	{StageCommit, (*Engine).commitVaultStep},
}

func (e *Engine) runMarketTx(ws *workingSet, tx *domain.MorphoTx) error {
	step := &marketStep{tx: tx}
	for _, st := range marketPipeline {
		if e.observer != nil {
			e.observer(st.stage, tx.ID)
		}
		if err := st.run(e, ws, step); err != nil {
			return fmt.Errorf("%s %s tx %s: %w", st.stage, tx.Type, tx.ID, err)
		}
	}
	return nil
}

func (e *Engine) runVaultTx(ws *workingSet, tx *domain.MetaMorphoTx) error {
	step := &vaultStep{tx: tx}
	for _, st := range vaultPipeline {
		if e.observer != nil {
			e.observer(st.stage, tx.ID)
		}
		if err := st.run(e, ws, step); err != nil {
			return fmt.Errorf("%s vault %s tx %s: %w", st.stage, tx.Type, tx.ID, err)
		}
	}
	return nil
}

func (e *Engine) syncMarket(ws *workingSet, s *marketStep) error {
	tm, err := ws.market(s.tx.Market)
	if err != nil {
		return err
	}
	if err := e.acc.SyncMarket(tm.m, s.tx.Timestamp); err != nil {
		return err
	}
	s.market = tm
	return nil
}

func (e *Engine) syncMarketPosition(ws *workingSet, s *marketStep) error {
	if s.tx.Type == domain.TxTypeBadDebt {
		return nil
	}
	tp, err := ws.marketPosition(s.market, s.tx.User)
	if err != nil {
		return err
	}
	if err := e.acc.SyncMarketPosition(tp.p, s.market.m, s.tx.Timestamp); err != nil {
		return err
	}
	s.position = tp
	return nil
}

func (e *Engine) applyMarketDelta(_ *workingSet, s *marketStep) error {
	m := s.market.m
	tx := s.tx
	marketName := "market " + m.ID.Hex()

	switch tx.Type {
	case domain.TxTypeSupply, domain.TxTypeAccrueInterest:
		p := s.position.p
		posShares, err := addChecked("position "+p.ID, "supplyShares", p.SupplyShares, tx.Shares)
		if err != nil {
			return err
		}
		totalShares, err := addChecked(marketName, "totalSupplyShares", m.TotalSupplyShares, tx.Shares)
		if err != nil {
			return err
		}
		p.SupplyShares = posShares
		m.TotalSupplyShares = totalShares
		m.TotalSupplyAssets = new(big.Int).Add(m.TotalSupplyAssets, tx.Assets)
		if tx.Type == domain.TxTypeAccrueInterest {
			m.TotalBorrowAssets = new(big.Int).Add(m.TotalBorrowAssets, tx.Assets)
		}

	case domain.TxTypeBorrow:
		p := s.position.p
		posShares, err := addChecked("position "+p.ID, "borrowShares", p.BorrowShares, tx.Shares)
		if err != nil {
			return err
		}
		totalShares, err := addChecked(marketName, "totalBorrowShares", m.TotalBorrowShares, tx.Shares)
		if err != nil {
			return err
		}
		p.BorrowShares = posShares
		m.TotalBorrowShares = totalShares
		m.TotalBorrowAssets = new(big.Int).Add(m.TotalBorrowAssets, tx.Assets)

	case domain.TxTypeCollateral:
		p := s.position.p
		posCollateral, err := addChecked("position "+p.ID, "collateral", p.Collateral, tx.Assets)
		if err != nil {
			return err
		}
		total, err := addChecked(marketName, "totalCollateral", m.TotalCollateral, tx.Assets)
		if err != nil {
			return err
		}
		p.Collateral = posCollateral
		m.TotalCollateral = total

	case domain.TxTypeBadDebt:
		m.TotalSupplyAssets = new(big.Int).Add(m.TotalSupplyAssets, tx.Assets)

	default:
		return fmt.Errorf("unhandled market tx type %q", tx.Type)
	}
	return nil
}

func (e *Engine) snapshotMarketStep(ws *workingSet, s *marketStep) error {
	if !e.snapshots {
		return nil
	}
	s.marketSnapshot = ws.snapshotMarket(s.market, s.tx.Timestamp, s.tx.BlockNumber)
	if s.position != nil {
		ws.snapshotMarketPosition(s.position, s.marketSnapshot, s.tx.Timestamp, s.tx.BlockNumber)
	}
	return nil
}

func (e *Engine) commitMarketStep(ws *workingSet, s *marketStep) error {
	s.market.dirty = true
	if s.position != nil {
		s.position.dirty = true
	}
	ws.recordMorphoTx(s.tx)
	return nil
}

func (e *Engine) syncVault(ws *workingSet, s *vaultStep) error {
	tv, err := ws.vault(s.tx.Vault)
	if err != nil {
		return err
	}
	if err := e.acc.SyncVault(tv.v, s.tx.Timestamp); err != nil {
		return err
	}
	s.vault = tv
	return nil
}

func (e *Engine) syncVaultPosition(ws *workingSet, s *vaultStep) error {
	tp, err := ws.vaultPosition(s.vault, s.tx.User)
	if err != nil {
		return err
	}
	if err := e.acc.SyncVaultPosition(tp.p, s.vault.v, s.tx.Timestamp); err != nil {
		return err
	}
	s.position = tp
	return nil
}

// applyVaultDelta moves the position's shares. Transfers leave vault totals
// untouched; their two legs net to zero.
func (e *Engine) applyVaultDelta(_ *workingSet, s *vaultStep) error {
	v := s.vault.v
	p := s.position.p
	tx := s.tx

	shares, err := addChecked("vault position "+p.ID, "shares", p.Shares, tx.Shares)
	if err != nil {
		return err
	}
	if tx.Type == domain.VaultTxTypeTransfer {
		p.Shares = shares
		return nil
	}

	total, err := addChecked("vault "+idhash.AddressID(v.ID), "totalShares", v.TotalShares, tx.Shares)
	if err != nil {
		return err
	}
	p.Shares = shares
	v.TotalShares = total
	v.TotalAssets = new(big.Int).Add(v.TotalAssets, tx.Assets)
	return nil
}

func (e *Engine) snapshotVaultStep(ws *workingSet, s *vaultStep) error {
	if !e.snapshots {
		return nil
	}
	s.vaultSnapshot = ws.snapshotVault(s.vault, s.tx.Timestamp, s.tx.BlockNumber)
	ws.snapshotVaultPosition(s.position, s.vaultSnapshot, s.tx.Timestamp, s.tx.BlockNumber)
	return nil
}

func (e *Engine) commitVaultStep(ws *workingSet, s *vaultStep) error {
	s.vault.dirty = true
	s.position.dirty = true
	ws.recordMetaMorphoTx(s.tx)
	return nil
}
