// Package reporting renders points reports as CSV, Markdown or JSON.
// Raw points are share-seconds of token base units; Decimals scales them
// down for display with exact decimal arithmetic.
package reporting

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"morpho-points/internal/query"
	"morpho-points/internal/verification"
)

// Row is one pool of one position.
type Row struct {
	Entity string `json:"entity"` // market id or vault address
	Kind   string `json:"kind"`   // supply, borrow, collateral or vault
	User   string `json:"user"`
	Shares string `json:"shares"`
	Points string `json:"points"`
	Shards string `json:"shards"`
}

// Report is a points report at one point in time.
type Report struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	AsOf         int64                `json:"as_of"`
	User         string               `json:"user,omitempty"` // empty for the whole index
	Decimals     int32                `json:"decimals"`
	Rows         []Row                `json:"rows"`
	TotalPoints  string               `json:"total_points"`
	Verification *verification.Report `json:"verification,omitempty"`
}

// Generator builds reports from the query service.
type Generator struct {
	svc      *query.Service
	decimals int32
	now      func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a generator that scales points by 10^-decimals.
func NewGenerator(svc *query.Service, decimals int32) *Generator {
	return &Generator{
		svc:      svc,
		decimals: decimals,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate reports every position, or only user's when user is non-nil.
// asOf <= 0 means the timestamp of the last applied event.
func (g *Generator) Generate(ctx context.Context, user *common.Address, asOf int64) (*Report, error) {
	if asOf <= 0 {
		latest, err := g.svc.LatestTimestamp(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest timestamp: %w", err)
		}
		asOf = latest
	}

	var (
		markets []*query.MarketPoints
		vaults  []*query.VaultPoints
	)
	if user != nil {
		up, err := g.svc.UserPoints(ctx, *user, asOf)
		if err != nil {
			return nil, err
		}
		markets, vaults = up.Markets, up.Vaults
	} else {
		var err error
		if markets, vaults, err = g.svc.AllPositions(ctx, asOf); err != nil {
			return nil, err
		}
	}

	r := &Report{GeneratedAt: g.now(), AsOf: asOf, Decimals: g.decimals}
	if user != nil {
		r.User = user.Hex()
	}

	total := new(big.Int)
	for _, m := range markets {
		entity, holder := m.Market.Hex(), m.User.Hex()
		for _, pool := range []struct {
			kind                   string
			shares, points, shards *big.Int
		}{
			{"supply", m.SupplyShares, m.SupplyPoints, m.SupplyShards},
			{"borrow", m.BorrowShares, m.BorrowPoints, m.BorrowShards},
			{"collateral", m.Collateral, m.CollateralPoints, m.CollateralShards},
		} {
			if pool.shares.Sign() == 0 && pool.points.Sign() == 0 {
				continue
			}
			r.Rows = append(r.Rows, g.row(entity, pool.kind, holder, pool.shares, pool.points, pool.shards))
			total.Add(total, pool.points)
		}
	}
	for _, v := range vaults {
		if v.Shares.Sign() == 0 && v.Points.Sign() == 0 {
			continue
		}
		r.Rows = append(r.Rows, g.row(v.Vault.Hex(), "vault", v.User.Hex(), v.Shares, v.Points, v.Shards))
		total.Add(total, v.Points)
	}

	sort.SliceStable(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.User != b.User {
			return a.User < b.User
		}
		return a.Kind < b.Kind
	})
	r.TotalPoints = ScalePoints(total, g.decimals)
	return r, nil
}

func (g *Generator) row(entity, kind, user string, shares, points, shards *big.Int) Row {
	return Row{
		Entity: entity,
		Kind:   kind,
		User:   user,
		Shares: shares.String(),
		Points: ScalePoints(points, g.decimals),
		Shards: shards.String(),
	}
}

// ScalePoints renders points / 10^decimals without losing precision.
func ScalePoints(points *big.Int, decimals int32) string {
	if points == nil {
		return "0"
	}
	return decimal.NewFromBigInt(points, -decimals).String()
}
