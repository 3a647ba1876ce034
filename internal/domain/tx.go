package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxType tags which market pool a MorphoTx moves.
type TxType string

const (
	TxTypeSupply         TxType = "SUPPLY"
	TxTypeBorrow         TxType = "BORROW"
	TxTypeCollateral     TxType = "COLLATERAL"
	TxTypeAccrueInterest TxType = "ACCRUE_INTEREST" // fee shares minted to the fee recipient
	TxTypeBadDebt        TxType = "BAD_DEBT"        // supply assets written off, aggregate only
)

// String returns the string representation of TxType.
func (t TxType) String() string {
	return string(t)
}

// IsValid checks if the type is a known market transaction type.
func (t TxType) IsValid() bool {
	switch t {
	case TxTypeSupply, TxTypeBorrow, TxTypeCollateral, TxTypeAccrueInterest, TxTypeBadDebt:
		return true
	}
	return false
}

// VaultTxType tags a MetaMorphoTx.
type VaultTxType string

const (
	VaultTxTypeDeposit        VaultTxType = "DEPOSIT"
	VaultTxTypeWithdraw       VaultTxType = "WITHDRAW"
	VaultTxTypeTransfer       VaultTxType = "TRANSFER"
	VaultTxTypeAccrueInterest VaultTxType = "ACCRUE_INTEREST"
)

// String returns the string representation of VaultTxType.
func (t VaultTxType) String() string {
	return string(t)
}

// IsValid checks if the type is a known vault transaction type.
func (t VaultTxType) IsValid() bool {
	switch t {
	case VaultTxTypeDeposit, VaultTxTypeWithdraw, VaultTxTypeTransfer, VaultTxTypeAccrueInterest:
		return true
	}
	return false
}

// Provenance locates the log a transaction record was derived from.
type Provenance struct {
	TxHash      common.Hash
	TxIndex     uint64
	LogIndex    uint64
	BlockNumber uint64
}

// MorphoTx is an immutable signed delta against one market position.
// Shares and Assets are negative for withdrawals, repayments and seizures.
type MorphoTx struct {
	ID        string // log id, optionally suffixed
	Type      TxType
	Market    common.Hash
	User      common.Address
	Shares    *big.Int
	Assets    *big.Int
	Timestamp int64
	Provenance
}

// MetaMorphoTx is an immutable signed share delta against one vault position.
type MetaMorphoTx struct {
	ID        string
	Type      VaultTxType
	Vault     common.Address
	User      common.Address
	Shares    *big.Int
	Assets    *big.Int
	Timestamp int64
	Provenance
}
