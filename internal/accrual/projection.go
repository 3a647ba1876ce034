package accrual

import "morpho-points/internal/domain"

// ProjectMarket returns a copy of m synced to now. m is not modified.
func (a *Accumulator) ProjectMarket(m *domain.Market, now int64) (*domain.Market, error) {
	out := m.Clone()
	if err := a.SyncMarket(out, now); err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectMarketPosition returns copies of the market and position synced to now.
// Neither input is modified.
func (a *Accumulator) ProjectMarketPosition(m *domain.Market, p *domain.MarketPosition, now int64) (*domain.Market, *domain.MarketPosition, error) {
	market, err := a.ProjectMarket(m, now)
	if err != nil {
		return nil, nil, err
	}
	pos := p.Clone()
	if err := a.SyncMarketPosition(pos, market, now); err != nil {
		return nil, nil, err
	}
	return market, pos, nil
}

// ProjectVault returns a copy of v synced to now.
func (a *Accumulator) ProjectVault(v *domain.Vault, now int64) (*domain.Vault, error) {
	out := v.Clone()
	if err := a.SyncVault(out, now); err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectVaultPosition returns copies of the vault and position synced to now.
func (a *Accumulator) ProjectVaultPosition(v *domain.Vault, p *domain.VaultPosition, now int64) (*domain.Vault, *domain.VaultPosition, error) {
	vault, err := a.ProjectVault(v, now)
	if err != nil {
		return nil, nil, err
	}
	pos := p.Clone()
	if err := a.SyncVaultPosition(pos, vault, now); err != nil {
		return nil, nil, err
	}
	return vault, pos, nil
}
