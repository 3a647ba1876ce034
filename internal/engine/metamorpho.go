package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
)

func vaultTx(meta domain.EventMeta, suffix []byte, typ domain.VaultTxType, vault, user common.Address, shares, assets *big.Int) *domain.MetaMorphoTx {
	id := idhash.LogID(meta.TxHash, meta.LogIndex)
	if suffix != nil {
		id = idhash.SubLogID(meta.TxHash, meta.LogIndex, suffix)
	}
	return &domain.MetaMorphoTx{
		ID:         id,
		Type:       typ,
		Vault:      vault,
		User:       user,
		Shares:     shares,
		Assets:     assets,
		Timestamp:  meta.BlockTimestamp,
		Provenance: provenance(meta),
	}
}

func (e *Engine) createVault(ws *workingSet, ev domain.CreateVault) error {
	_, exists, err := ws.lookupVault(ev.Vault)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: vault %s", ErrAggregateExists, ev.Vault.Hex())
	}

	tv := ws.addVault(domain.NewVault(ev.Vault, ev.Asset, ev.BlockTimestamp))
	if e.snapshots {
		ws.snapshotVault(tv, ev.BlockTimestamp, ev.BlockNumber)
	}
	return nil
}

func (e *Engine) vaultDeposit(ws *workingSet, ev domain.VaultDeposit) error {
	return e.runVaultTx(ws, vaultTx(ev.EventMeta, nil, domain.VaultTxTypeDeposit,
		ev.Address, ev.Owner, amount(ev.Shares), amount(ev.Assets)))
}

func (e *Engine) vaultWithdraw(ws *workingSet, ev domain.VaultWithdraw) error {
	return e.runVaultTx(ws, vaultTx(ev.EventMeta, nil, domain.VaultTxTypeWithdraw,
		ev.Address, ev.Owner, neg(ev.Shares), neg(ev.Assets)))
}

// vaultTransfer handles share token transfers between users. Mints and burns
// are covered by deposit and withdraw; transfers through the lending contract
// are covered by the collateral mirror.
func (e *Engine) vaultTransfer(ws *workingSet, ev domain.VaultTransfer) error {
	zero := common.Address{}
	if ev.From == zero || ev.To == zero {
		return nil
	}
	if ev.From == e.morpho || ev.To == e.morpho {
		return nil
	}
	return e.transferVaultShares(ws, ev.Address, ev.From, ev.To, ev.Value, ev.EventMeta)
}

// transferVaultShares records a debit and a credit leg. Self-transfers and
// zero amounts produce nothing.
func (e *Engine) transferVaultShares(ws *workingSet, vault, from, to common.Address, shares *big.Int, meta domain.EventMeta) error {
	if from == to || shares == nil || shares.Sign() == 0 {
		return nil
	}
	debit := vaultTx(meta, idhash.SuffixDebit, domain.VaultTxTypeTransfer, vault, from, neg(shares), new(big.Int))
	if err := e.runVaultTx(ws, debit); err != nil {
		return err
	}
	credit := vaultTx(meta, idhash.SuffixCredit, domain.VaultTxTypeTransfer, vault, to, amount(shares), new(big.Int))
	return e.runVaultTx(ws, credit)
}

// vaultAccrueInterest credits performance fee shares to the vault's fee recipient
// and moves total assets to the reported value.
func (e *Engine) vaultAccrueInterest(ws *workingSet, ev domain.VaultAccrueInterest) error {
	if ev.FeeShares == nil || ev.FeeShares.Sign() == 0 {
		return nil
	}
	tv, err := ws.vault(ev.Address)
	if err != nil {
		return err
	}
	if tv.v.FeeRecipient == nil {
		return fmt.Errorf("%w: vault %s fee shares %s", ErrFeeRecipientNotSet, ev.Address.Hex(), ev.FeeShares)
	}

	assets := new(big.Int)
	if ev.NewTotalAssets != nil {
		assets.Sub(ev.NewTotalAssets, tv.v.TotalAssets)
	}
	return e.runVaultTx(ws, vaultTx(ev.EventMeta, nil, domain.VaultTxTypeAccrueInterest,
		ev.Address, *tv.v.FeeRecipient, amount(ev.FeeShares), assets))
}

func (e *Engine) vaultSetFeeRecipient(ws *workingSet, ev domain.VaultSetFeeRecipient) error {
	tv, err := ws.vault(ev.Address)
	if err != nil {
		return err
	}
	r := ev.FeeRecipient
	tv.v.FeeRecipient = &r
	tv.dirty = true
	return nil
}
