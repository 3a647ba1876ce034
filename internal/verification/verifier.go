// Package verification checks stored reward state for internal consistency:
// share conservation between positions, aggregates and the transaction
// ledger, non-negative balances, and points never exceeding what was emitted.
package verification

import (
	"context"
	"fmt"
	"math/big"

	"morpho-points/internal/accrual"
	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// Check names.
const (
	CheckConservation = "conservation"
	CheckNonNegative  = "non_negative"
	CheckPointsBound  = "points_bound"
	CheckLedger       = "ledger"
	CheckLastUpdate   = "last_update"
)

// Issue is one failed check.
type Issue struct {
	Entity   string
	Check    string
	Field    string
	Expected string
	Actual   string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s %s: expected %s, got %s", i.Check, i.Entity, i.Field, i.Expected, i.Actual)
}

// Report contains the result of a verification pass.
type Report struct {
	Markets      int
	Vaults       int
	Positions    int
	Transactions int
	Issues       []Issue
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Verifier checks a store. The accumulator must use the emission policy the
// state was built with.
type Verifier struct {
	store storage.StateReader
	acc   *accrual.Accumulator
}

// NewVerifier creates a verifier.
func NewVerifier(store storage.StateReader, acc *accrual.Accumulator) *Verifier {
	return &Verifier{store: store, acc: acc}
}

// Verify runs every check over every market and vault. Storage errors abort;
// failed checks are collected in the report.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	r := &Report{}

	markets, err := v.store.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	for _, m := range markets {
		if err := v.verifyMarket(ctx, r, m); err != nil {
			return nil, err
		}
	}

	vaults, err := v.store.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	for _, vault := range vaults {
		if err := v.verifyVault(ctx, r, vault); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// pool accumulates the position-side and ledger-side view of one share pool.
type pool struct {
	field     string
	total     *big.Int // aggregate balance
	points    *big.Int // aggregate points
	balances  *big.Int
	projected *big.Int
	ledger    *big.Int
}

func newPool(field string, total, points *big.Int) *pool {
	return &pool{field: field, total: total, points: points,
		balances: new(big.Int), projected: new(big.Int), ledger: new(big.Int)}
}

func (p *pool) check(r *Report, entity string) {
	if p.total.Sign() < 0 {
		r.add(entity, CheckNonNegative, p.field, ">= 0", p.total)
	}
	if p.balances.Cmp(p.total) != 0 {
		r.add(entity, CheckConservation, p.field, p.total.String(), p.balances)
	}
	if p.ledger.Cmp(p.total) != 0 {
		r.add(entity, CheckLedger, p.field, p.total.String(), p.ledger)
	}
	if p.points != nil && p.projected.Cmp(p.points) > 0 {
		r.add(entity, CheckPointsBound, p.field+" points", "<= "+p.points.String(), p.projected)
	}
}

func (r *Report) add(entity, check, field, expected string, actual any) {
	r.Issues = append(r.Issues, Issue{
		Entity: entity, Check: check, Field: field, Expected: expected, Actual: fmt.Sprint(actual),
	})
}

func (v *Verifier) verifyMarket(ctx context.Context, r *Report, m *domain.Market) error {
	r.Markets++
	entity := "market " + m.ID.Hex()

	supply := newPool("supplyShares", m.TotalSupplyShares, m.TotalSupplyPoints)
	borrow := newPool("borrowShares", m.TotalBorrowShares, m.TotalBorrowPoints)
	collateral := newPool("collateral", m.TotalCollateral, m.TotalCollateralPoints)

	positions, err := v.store.ListMarketPositionsByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list positions of %s: %w", entity, err)
	}
	for _, p := range positions {
		r.Positions++
		posEntity := "position " + p.ID
		for _, b := range []struct {
			pool *pool
			bal  *big.Int
		}{{supply, p.SupplyShares}, {borrow, p.BorrowShares}, {collateral, p.Collateral}} {
			if b.bal.Sign() < 0 {
				r.add(posEntity, CheckNonNegative, b.pool.field, ">= 0", b.bal)
			}
			b.pool.balances.Add(b.pool.balances, b.bal)
		}
		if p.LastUpdate > m.LastUpdate {
			r.add(posEntity, CheckLastUpdate, "lastUpdate", fmt.Sprintf("<= %d", m.LastUpdate), p.LastUpdate)
			continue
		}

		_, projected, err := v.acc.ProjectMarketPosition(m, p, m.LastUpdate)
		if err != nil {
			return fmt.Errorf("project %s: %w", posEntity, err)
		}
		supply.projected.Add(supply.projected, projected.SupplyPoints)
		borrow.projected.Add(borrow.projected, projected.BorrowPoints)
		collateral.projected.Add(collateral.projected, projected.CollateralPoints)
	}

	txs, err := v.store.ListMorphoTxsByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list txs of %s: %w", entity, err)
	}
	for _, tx := range txs {
		r.Transactions++
		switch tx.Type {
		case domain.TxTypeSupply, domain.TxTypeAccrueInterest:
			supply.ledger.Add(supply.ledger, tx.Shares)
		case domain.TxTypeBorrow:
			borrow.ledger.Add(borrow.ledger, tx.Shares)
		case domain.TxTypeCollateral:
			collateral.ledger.Add(collateral.ledger, tx.Assets)
		}
	}

	supply.check(r, entity)
	borrow.check(r, entity)
	collateral.check(r, entity)
	return nil
}

func (v *Verifier) verifyVault(ctx context.Context, r *Report, vault *domain.Vault) error {
	r.Vaults++
	entity := "vault " + vault.ID.Hex()
	shares := newPool("shares", vault.TotalShares, vault.TotalPoints)

	positions, err := v.store.ListVaultPositionsByVault(ctx, vault.ID)
	if err != nil {
		return fmt.Errorf("list positions of %s: %w", entity, err)
	}
	for _, p := range positions {
		r.Positions++
		posEntity := "vault position " + p.ID
		if p.Shares.Sign() < 0 {
			r.add(posEntity, CheckNonNegative, "shares", ">= 0", p.Shares)
		}
		shares.balances.Add(shares.balances, p.Shares)
		if p.LastUpdate > vault.LastUpdate {
			r.add(posEntity, CheckLastUpdate, "lastUpdate", fmt.Sprintf("<= %d", vault.LastUpdate), p.LastUpdate)
			continue
		}

		_, projected, err := v.acc.ProjectVaultPosition(vault, p, vault.LastUpdate)
		if err != nil {
			return fmt.Errorf("project %s: %w", posEntity, err)
		}
		shares.projected.Add(shares.projected, projected.SupplyPoints)
	}

	txs, err := v.store.ListMetaMorphoTxsByVault(ctx, vault.ID)
	if err != nil {
		return fmt.Errorf("list txs of %s: %w", entity, err)
	}
	for _, tx := range txs {
		r.Transactions++
		shares.ledger.Add(shares.ledger, tx.Shares)
	}

	shares.check(r, entity)
	return nil
}
