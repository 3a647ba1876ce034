package engine

import (
	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
)

// previousLink points at the snapshot taken at the entity's LastUpdate before
// this event. New entities and same-timestamp rewrites have no link of their own.
func previousLink(entityID string, isNew bool, prevUpdate, ts int64) *string {
	if isNew || prevUpdate == ts {
		return nil
	}
	id := idhash.SnapshotID(entityID, prevUpdate)
	return &id
}

func (ws *workingSet) snapshotMarket(tm *trackedMarket, ts int64, block uint64) string {
	m := tm.m
	entityID := m.ID.Hex()
	snap := &domain.MarketSnapshot{
		ID:                    idhash.SnapshotID(entityID, ts),
		PreviousSnapshot:      previousLink(entityID, tm.isNew, tm.prevUpdate, ts),
		Market:                m.ID,
		Timestamp:             ts,
		BlockNumber:           block,
		TotalSupplyShares:     domain.CloneInt(m.TotalSupplyShares),
		TotalBorrowShares:     domain.CloneInt(m.TotalBorrowShares),
		TotalCollateral:       domain.CloneInt(m.TotalCollateral),
		TotalSupplyPoints:     domain.CloneInt(m.TotalSupplyPoints),
		TotalBorrowPoints:     domain.CloneInt(m.TotalBorrowPoints),
		TotalCollateralPoints: domain.CloneInt(m.TotalCollateralPoints),
		SupplyPointsIndex:     domain.CloneInt(m.SupplyPointsIndex),
		BorrowPointsIndex:     domain.CloneInt(m.BorrowPointsIndex),
		CollateralPointsIndex: domain.CloneInt(m.CollateralPointsIndex),
	}

	key := "market:" + snap.ID
	if i, ok := ws.snapshotSeen[key]; ok {
		snap.PreviousSnapshot = storage.KeepLink(ws.snapshots.Markets[i].PreviousSnapshot, snap.PreviousSnapshot)
		ws.snapshots.Markets[i] = snap
	} else {
		ws.snapshotSeen[key] = len(ws.snapshots.Markets)
		ws.snapshots.Markets = append(ws.snapshots.Markets, snap)
	}
	return snap.ID
}

func (ws *workingSet) snapshotMarketPosition(tp *trackedMarketPosition, marketSnapshot string, ts int64, block uint64) {
	p := tp.p
	snap := &domain.MarketPositionSnapshot{
		ID:               idhash.SnapshotID(p.ID, ts),
		PreviousSnapshot: previousLink(p.ID, tp.isNew, tp.prevUpdate, ts),
		Position:         p.ID,
		MarketSnapshot:   marketSnapshot,
		Timestamp:        ts,
		BlockNumber:      block,
		SupplyShares:     domain.CloneInt(p.SupplyShares),
		BorrowShares:     domain.CloneInt(p.BorrowShares),
		Collateral:       domain.CloneInt(p.Collateral),
		SupplyPoints:     domain.CloneInt(p.SupplyPoints),
		BorrowPoints:     domain.CloneInt(p.BorrowPoints),
		CollateralPoints: domain.CloneInt(p.CollateralPoints),
	}

	key := "market-position:" + snap.ID
	if i, ok := ws.snapshotSeen[key]; ok {
		snap.PreviousSnapshot = storage.KeepLink(ws.snapshots.MarketPositions[i].PreviousSnapshot, snap.PreviousSnapshot)
		ws.snapshots.MarketPositions[i] = snap
	} else {
		ws.snapshotSeen[key] = len(ws.snapshots.MarketPositions)
		ws.snapshots.MarketPositions = append(ws.snapshots.MarketPositions, snap)
	}
}

func (ws *workingSet) snapshotVault(tv *trackedVault, ts int64, block uint64) string {
	v := tv.v
	entityID := idhash.AddressID(v.ID)
	snap := &domain.VaultSnapshot{
		ID:               idhash.SnapshotID(entityID, ts),
		PreviousSnapshot: previousLink(entityID, tv.isNew, tv.prevUpdate, ts),
		Vault:            v.ID,
		Timestamp:        ts,
		BlockNumber:      block,
		TotalShares:      domain.CloneInt(v.TotalShares),
		TotalPoints:      domain.CloneInt(v.TotalPoints),
		PointsIndex:      domain.CloneInt(v.PointsIndex),
	}

	key := "vault:" + snap.ID
	if i, ok := ws.snapshotSeen[key]; ok {
		snap.PreviousSnapshot = storage.KeepLink(ws.snapshots.Vaults[i].PreviousSnapshot, snap.PreviousSnapshot)
		ws.snapshots.Vaults[i] = snap
	} else {
		ws.snapshotSeen[key] = len(ws.snapshots.Vaults)
		ws.snapshots.Vaults = append(ws.snapshots.Vaults, snap)
	}
	return snap.ID
}

func (ws *workingSet) snapshotVaultPosition(tp *trackedVaultPosition, vaultSnapshot string, ts int64, block uint64) {
	p := tp.p
	snap := &domain.VaultPositionSnapshot{
		ID:               idhash.SnapshotID(p.ID, ts),
		PreviousSnapshot: previousLink(p.ID, tp.isNew, tp.prevUpdate, ts),
		Position:         p.ID,
		VaultSnapshot:    vaultSnapshot,
		Timestamp:        ts,
		BlockNumber:      block,
		Shares:           domain.CloneInt(p.Shares),
		SupplyPoints:     domain.CloneInt(p.SupplyPoints),
	}

	key := "vault-position:" + snap.ID
	if i, ok := ws.snapshotSeen[key]; ok {
		snap.PreviousSnapshot = storage.KeepLink(ws.snapshots.VaultPositions[i].PreviousSnapshot, snap.PreviousSnapshot)
		ws.snapshots.VaultPositions[i] = snap
	} else {
		ws.snapshotSeen[key] = len(ws.snapshots.VaultPositions)
		ws.snapshots.VaultPositions = append(ws.snapshots.VaultPositions, snap)
	}
}
