package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names one member of the closed set of upstream events.
type EventKind string

const (
	// Morpho (lending protocol)
	KindCreateMarket       EventKind = "CreateMarket"
	KindSupply             EventKind = "Supply"
	KindWithdraw           EventKind = "Withdraw"
	KindBorrow             EventKind = "Borrow"
	KindRepay              EventKind = "Repay"
	KindSupplyCollateral   EventKind = "SupplyCollateral"
	KindWithdrawCollateral EventKind = "WithdrawCollateral"
	KindLiquidate          EventKind = "Liquidate"
	KindAccrueInterest     EventKind = "AccrueInterest"
	KindSetFeeRecipient    EventKind = "SetFeeRecipient"

	// MetaMorpho factory and vaults
	KindCreateVault          EventKind = "CreateMetaMorpho"
	KindVaultDeposit         EventKind = "VaultDeposit"
	KindVaultWithdraw        EventKind = "VaultWithdraw"
	KindVaultTransfer        EventKind = "VaultTransfer"
	KindVaultAccrueInterest  EventKind = "VaultAccrueInterest"
	KindVaultSetFeeRecipient EventKind = "VaultSetFeeRecipient"
)

// EventKinds lists every kind in dispatch order.
var EventKinds = []EventKind{
	KindCreateMarket, KindSupply, KindWithdraw, KindBorrow, KindRepay,
	KindSupplyCollateral, KindWithdrawCollateral, KindLiquidate, KindAccrueInterest,
	KindSetFeeRecipient, KindCreateVault, KindVaultDeposit, KindVaultWithdraw,
	KindVaultTransfer, KindVaultAccrueInterest, KindVaultSetFeeRecipient,
}

// IsValid checks if the kind is a member of the closed set.
func (k EventKind) IsValid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EventMeta is the provenance shared by every event.
type EventMeta struct {
	Address        common.Address // emitting contract
	BlockNumber    uint64
	BlockTimestamp int64 // unix seconds
	TxHash         common.Hash
	TxIndex        uint64
	LogIndex       uint64
}

// Meta returns the event provenance.
func (m EventMeta) Meta() EventMeta { return m }

// Event is the closed union of decoded upstream events.
// Only types in this package implement it.
type Event interface {
	Meta() EventMeta
	Kind() EventKind
	sealed()
}

// CreateMarket registers a new lending market.
type CreateMarket struct {
	EventMeta
	ID              common.Hash
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	IRM             common.Address
	LLTV            *big.Int
}

// Supply adds loan assets to a market on behalf of a user.
type Supply struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Assets   *big.Int
	Shares   *big.Int
}

// Withdraw removes supplied loan assets.
type Withdraw struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Receiver common.Address
	Assets   *big.Int
	Shares   *big.Int
}

// Borrow opens or increases debt.
type Borrow struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Receiver common.Address
	Assets   *big.Int
	Shares   *big.Int
}

// Repay decreases debt.
type Repay struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Assets   *big.Int
	Shares   *big.Int
}

// SupplyCollateral posts collateral.
type SupplyCollateral struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Assets   *big.Int
}

// WithdrawCollateral removes collateral.
type WithdrawCollateral struct {
	EventMeta
	Market   common.Hash
	Caller   common.Address
	OnBehalf common.Address
	Receiver common.Address
	Assets   *big.Int
}

// Liquidate repays a borrower's debt and seizes their collateral.
type Liquidate struct {
	EventMeta
	Market        common.Hash
	Caller        common.Address
	Borrower      common.Address
	RepaidAssets  *big.Int
	RepaidShares  *big.Int
	SeizedAssets  *big.Int
	BadDebtAssets *big.Int
	BadDebtShares *big.Int
}

// AccrueInterest grows a market's assets and mints fee shares.
type AccrueInterest struct {
	EventMeta
	Market         common.Hash
	PrevBorrowRate *big.Int
	Interest       *big.Int
	FeeShares      *big.Int
}

// SetFeeRecipient changes the protocol fee recipient.
type SetFeeRecipient struct {
	EventMeta
	FeeRecipient common.Address
}

// CreateVault registers a MetaMorpho vault deployed by the factory.
type CreateVault struct {
	EventMeta
	Vault        common.Address
	Caller       common.Address
	InitialOwner common.Address
	Asset        common.Address
	Name         string
	Symbol       string
}

// VaultDeposit mints vault shares to Owner. EventMeta.Address is the vault.
type VaultDeposit struct {
	EventMeta
	Sender common.Address
	Owner  common.Address
	Assets *big.Int
	Shares *big.Int
}

// VaultWithdraw burns vault shares from Owner.
type VaultWithdraw struct {
	EventMeta
	Sender   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *big.Int
	Shares   *big.Int
}

// VaultTransfer is the vault share token's ERC-20 Transfer.
type VaultTransfer struct {
	EventMeta
	From  common.Address
	To    common.Address
	Value *big.Int
}

// VaultAccrueInterest mints performance fee shares to the vault fee recipient.
type VaultAccrueInterest struct {
	EventMeta
	NewTotalAssets *big.Int
	FeeShares      *big.Int
}

// VaultSetFeeRecipient changes a vault's fee recipient.
type VaultSetFeeRecipient struct {
	EventMeta
	FeeRecipient common.Address
}

func (CreateMarket) Kind() EventKind         { return KindCreateMarket }
func (Supply) Kind() EventKind               { return KindSupply }
func (Withdraw) Kind() EventKind             { return KindWithdraw }
func (Borrow) Kind() EventKind               { return KindBorrow }
func (Repay) Kind() EventKind                { return KindRepay }
func (SupplyCollateral) Kind() EventKind     { return KindSupplyCollateral }
func (WithdrawCollateral) Kind() EventKind   { return KindWithdrawCollateral }
func (Liquidate) Kind() EventKind            { return KindLiquidate }
func (AccrueInterest) Kind() EventKind       { return KindAccrueInterest }
func (SetFeeRecipient) Kind() EventKind      { return KindSetFeeRecipient }
func (CreateVault) Kind() EventKind          { return KindCreateVault }
func (VaultDeposit) Kind() EventKind         { return KindVaultDeposit }
func (VaultWithdraw) Kind() EventKind        { return KindVaultWithdraw }
func (VaultTransfer) Kind() EventKind        { return KindVaultTransfer }
func (VaultAccrueInterest) Kind() EventKind  { return KindVaultAccrueInterest }
func (VaultSetFeeRecipient) Kind() EventKind { return KindVaultSetFeeRecipient }

func (CreateMarket) sealed()         {}
func (Supply) sealed()               {}
func (Withdraw) sealed()             {}
func (Borrow) sealed()               {}
func (Repay) sealed()                {}
func (SupplyCollateral) sealed()     {}
func (WithdrawCollateral) sealed()   {}
func (Liquidate) sealed()            {}
func (AccrueInterest) sealed()       {}
func (SetFeeRecipient) sealed()      {}
func (CreateVault) sealed()          {}
func (VaultDeposit) sealed()         {}
func (VaultWithdraw) sealed()        {}
func (VaultTransfer) sealed()        {}
func (VaultAccrueInterest) sealed()  {}
func (VaultSetFeeRecipient) sealed() {}
