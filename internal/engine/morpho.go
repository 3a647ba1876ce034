package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
)

func amount(x *big.Int) *big.Int {
	return domain.CloneInt(x)
}

func neg(x *big.Int) *big.Int {
	return new(big.Int).Neg(domain.CloneInt(x))
}

func provenance(meta domain.EventMeta) domain.Provenance {
	return domain.Provenance{
		TxHash:      meta.TxHash,
		TxIndex:     meta.TxIndex,
		LogIndex:    meta.LogIndex,
		BlockNumber: meta.BlockNumber,
	}
}

// marketTx builds a market record. A nil suffix uses the plain log id.
func marketTx(meta domain.EventMeta, suffix []byte, typ domain.TxType, market common.Hash, user common.Address, shares, assets *big.Int) *domain.MorphoTx {
	id := idhash.LogID(meta.TxHash, meta.LogIndex)
	if suffix != nil {
		id = idhash.SubLogID(meta.TxHash, meta.LogIndex, suffix)
	}
	return &domain.MorphoTx{
		ID:         id,
		Type:       typ,
		Market:     market,
		User:       user,
		Shares:     shares,
		Assets:     assets,
		Timestamp:  meta.BlockTimestamp,
		Provenance: provenance(meta),
	}
}

func (e *Engine) createMarket(ws *workingSet, ev domain.CreateMarket) error {
	id := ev.ID
	if id == (common.Hash{}) {
		id = idhash.MarketID(ev.LoanToken, ev.CollateralToken, ev.Oracle, ev.IRM, ev.LLTV)
	}

	_, exists, err := ws.lookupMarket(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: market %s", ErrAggregateExists, id.Hex())
	}

	m := domain.NewMarket(id, ev.BlockTimestamp)
	m.LoanToken = ev.LoanToken
	m.CollateralToken = ev.CollateralToken
	m.Oracle = ev.Oracle
	m.IRM = ev.IRM
	m.LLTV = amount(ev.LLTV)

	tm := ws.addMarket(m)
	if e.snapshots {
		ws.snapshotMarket(tm, ev.BlockTimestamp, ev.BlockNumber)
	}
	return nil
}

func (e *Engine) supply(ws *workingSet, ev domain.Supply) error {
	return e.runMarketTx(ws, marketTx(ev.EventMeta, nil, domain.TxTypeSupply,
		ev.Market, ev.OnBehalf, amount(ev.Shares), amount(ev.Assets)))
}

func (e *Engine) withdraw(ws *workingSet, ev domain.Withdraw) error {
	return e.runMarketTx(ws, marketTx(ev.EventMeta, nil, domain.TxTypeSupply,
		ev.Market, ev.OnBehalf, neg(ev.Shares), neg(ev.Assets)))
}

func (e *Engine) borrow(ws *workingSet, ev domain.Borrow) error {
	return e.runMarketTx(ws, marketTx(ev.EventMeta, nil, domain.TxTypeBorrow,
		ev.Market, ev.OnBehalf, amount(ev.Shares), amount(ev.Assets)))
}

func (e *Engine) repay(ws *workingSet, ev domain.Repay) error {
	return e.runMarketTx(ws, marketTx(ev.EventMeta, nil, domain.TxTypeBorrow,
		ev.Market, ev.OnBehalf, neg(ev.Shares), neg(ev.Assets)))
}

func (e *Engine) supplyCollateral(ws *workingSet, ev domain.SupplyCollateral) error {
	tx := marketTx(ev.EventMeta, nil, domain.TxTypeCollateral,
		ev.Market, ev.OnBehalf, new(big.Int), amount(ev.Assets))
	if err := e.runMarketTx(ws, tx); err != nil {
		return err
	}
	return e.mirrorCollateral(ws, ev.Market, ev.Caller, ev.OnBehalf, ev.Assets, ev.EventMeta)
}

func (e *Engine) withdrawCollateral(ws *workingSet, ev domain.WithdrawCollateral) error {
	tx := marketTx(ev.EventMeta, nil, domain.TxTypeCollateral,
		ev.Market, ev.OnBehalf, new(big.Int), neg(ev.Assets))
	if err := e.runMarketTx(ws, tx); err != nil {
		return err
	}
	return e.mirrorCollateral(ws, ev.Market, ev.OnBehalf, ev.Receiver, ev.Assets, ev.EventMeta)
}

// liquidate records the borrower's debt reduction (repaid + bad debt), the
// seized collateral, and the bad debt socialized on suppliers.
func (e *Engine) liquidate(ws *workingSet, ev domain.Liquidate) error {
	debtShares := new(big.Int).Add(amount(ev.RepaidShares), amount(ev.BadDebtShares))
	debtAssets := new(big.Int).Add(amount(ev.RepaidAssets), amount(ev.BadDebtAssets))

	borrow := marketTx(ev.EventMeta, idhash.SuffixBorrow, domain.TxTypeBorrow,
		ev.Market, ev.Borrower, debtShares.Neg(debtShares), debtAssets.Neg(debtAssets))
	if err := e.runMarketTx(ws, borrow); err != nil {
		return err
	}

	collateral := marketTx(ev.EventMeta, idhash.SuffixCollateral, domain.TxTypeCollateral,
		ev.Market, ev.Borrower, new(big.Int), neg(ev.SeizedAssets))
	if err := e.runMarketTx(ws, collateral); err != nil {
		return err
	}

	if ev.BadDebtShares != nil && ev.BadDebtShares.Sign() != 0 {
		badDebt := marketTx(ev.EventMeta, idhash.SuffixBadDebt, domain.TxTypeBadDebt,
			ev.Market, ev.Borrower, new(big.Int), neg(ev.BadDebtAssets))
		if err := e.runMarketTx(ws, badDebt); err != nil {
			return err
		}
	}

	return e.mirrorCollateral(ws, ev.Market, ev.Borrower, ev.Caller, ev.SeizedAssets, ev.EventMeta)
}

// accrueInterest credits minted fee shares to the protocol fee recipient.
func (e *Engine) accrueInterest(ws *workingSet, ev domain.AccrueInterest) error {
	if ev.FeeShares == nil || ev.FeeShares.Sign() == 0 {
		return nil
	}
	cfg, err := ws.protocolConfig()
	if err != nil {
		return err
	}
	if cfg.FeeRecipient == nil {
		return fmt.Errorf("%w: market %s fee shares %s", ErrFeeRecipientNotSet, ev.Market.Hex(), ev.FeeShares)
	}
	return e.runMarketTx(ws, marketTx(ev.EventMeta, nil, domain.TxTypeAccrueInterest,
		ev.Market, *cfg.FeeRecipient, amount(ev.FeeShares), amount(ev.Interest)))
}

// mirrorCollateral moves vault shares between users when the market's
// collateral token is a known vault.
func (e *Engine) mirrorCollateral(ws *workingSet, market common.Hash, from, to common.Address, assets *big.Int, meta domain.EventMeta) error {
	tm, err := ws.market(market)
	if err != nil {
		return err
	}
	tv, isVault, err := ws.lookupVault(tm.m.CollateralToken)
	if err != nil || !isVault {
		return err
	}
	return e.transferVaultShares(ws, tv.v.ID, from, to, assets, meta)
}
