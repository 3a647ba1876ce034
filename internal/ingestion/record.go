package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"morpho-points/internal/domain"
)

var (
	// ErrUnknownKind is returned for records whose kind is outside the event union.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrMissingField is returned when a record lacks a required amount.
	ErrMissingField = errors.New("missing field")

	// ErrNegativeAmount is returned for a signed amount. Event amounts are uint256.
	ErrNegativeAmount = errors.New("negative amount")
)

// Record is the wire form of one decoded chain event.
type Record struct {
	Kind           string          `json:"kind"`
	Address        common.Address  `json:"address"`
	BlockNumber    uint64          `json:"block_number"`
	BlockTimestamp int64           `json:"block_timestamp"`
	TxHash         common.Hash     `json:"tx_hash"`
	TxIndex        uint64          `json:"tx_index"`
	LogIndex       uint64          `json:"log_index"`
	Params         json.RawMessage `json:"params"`
}

// params is the union of event arguments, named as in the contract ABIs.
// Amounts accept decimal or 0x-prefixed hex, quoted or bare.
type params struct {
	ID common.Hash `json:"id"`

	LoanToken       common.Address        `json:"loanToken"`
	CollateralToken common.Address        `json:"collateralToken"`
	Oracle          common.Address        `json:"oracle"`
	IRM             common.Address        `json:"irm"`
	LLTV            *math.HexOrDecimal256 `json:"lltv"`

	Caller          common.Address `json:"caller"`
	OnBehalf        common.Address `json:"onBehalf"`
	Receiver        common.Address `json:"receiver"`
	Borrower        common.Address `json:"borrower"`
	NewFeeRecipient common.Address `json:"newFeeRecipient"`

	MetaMorpho   common.Address `json:"metaMorpho"`
	InitialOwner common.Address `json:"initialOwner"`
	Asset        common.Address `json:"asset"`
	Name         string         `json:"name"`
	Symbol       string         `json:"symbol"`

	Sender common.Address `json:"sender"`
	Owner  common.Address `json:"owner"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`

	Assets         *math.HexOrDecimal256 `json:"assets"`
	Shares         *math.HexOrDecimal256 `json:"shares"`
	RepaidAssets   *math.HexOrDecimal256 `json:"repaidAssets"`
	RepaidShares   *math.HexOrDecimal256 `json:"repaidShares"`
	SeizedAssets   *math.HexOrDecimal256 `json:"seizedAssets"`
	BadDebtAssets  *math.HexOrDecimal256 `json:"badDebtAssets"`
	BadDebtShares  *math.HexOrDecimal256 `json:"badDebtShares"`
	PrevBorrowRate *math.HexOrDecimal256 `json:"prevBorrowRate"`
	Interest       *math.HexOrDecimal256 `json:"interest"`
	FeeShares      *math.HexOrDecimal256 `json:"feeShares"`
	NewTotalAssets *math.HexOrDecimal256 `json:"newTotalAssets"`
	Value          *math.HexOrDecimal256 `json:"value"`
}

// Decode parses one JSON record into a typed event.
func Decode(data []byte) (domain.Event, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r.Event()
}

// Event converts the record into its member of the event union.
func (r *Record) Event() (domain.Event, error) {
	kind := domain.EventKind(r.Kind)
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	var p params
	if len(r.Params) > 0 {
		if err := json.Unmarshal(r.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", kind, err)
		}
	}

	meta := domain.EventMeta{
		Address:        r.Address,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: r.BlockTimestamp,
		TxHash:         r.TxHash,
		TxIndex:        r.TxIndex,
		LogIndex:       r.LogIndex,
	}
	a := amounts{kind: kind}

	var ev domain.Event
	switch kind {
	case domain.KindCreateMarket:
		ev = domain.CreateMarket{
			EventMeta: meta, ID: p.ID,
			LoanToken: p.LoanToken, CollateralToken: p.CollateralToken,
			Oracle: p.Oracle, IRM: p.IRM, LLTV: a.required("lltv", p.LLTV),
		}
	case domain.KindSupply:
		ev = domain.Supply{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindWithdraw:
		ev = domain.Withdraw{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf, Receiver: p.Receiver,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindBorrow:
		ev = domain.Borrow{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf, Receiver: p.Receiver,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindRepay:
		ev = domain.Repay{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindSupplyCollateral:
		ev = domain.SupplyCollateral{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf,
			Assets: a.required("assets", p.Assets),
		}
	case domain.KindWithdrawCollateral:
		ev = domain.WithdrawCollateral{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, OnBehalf: p.OnBehalf, Receiver: p.Receiver,
			Assets: a.required("assets", p.Assets),
		}
	case domain.KindLiquidate:
		ev = domain.Liquidate{
			EventMeta: meta, Market: p.ID, Caller: p.Caller, Borrower: p.Borrower,
			RepaidAssets:  a.required("repaidAssets", p.RepaidAssets),
			RepaidShares:  a.required("repaidShares", p.RepaidShares),
			SeizedAssets:  a.required("seizedAssets", p.SeizedAssets),
			BadDebtAssets: a.optional("badDebtAssets", p.BadDebtAssets),
			BadDebtShares: a.optional("badDebtShares", p.BadDebtShares),
		}
	case domain.KindAccrueInterest:
		ev = domain.AccrueInterest{
			EventMeta: meta, Market: p.ID,
			PrevBorrowRate: a.optional("prevBorrowRate", p.PrevBorrowRate),
			Interest:       a.required("interest", p.Interest),
			FeeShares:      a.required("feeShares", p.FeeShares),
		}
	case domain.KindSetFeeRecipient:
		ev = domain.SetFeeRecipient{EventMeta: meta, FeeRecipient: p.NewFeeRecipient}
	case domain.KindCreateVault:
		ev = domain.CreateVault{
			EventMeta: meta, Vault: p.MetaMorpho, Caller: p.Caller, InitialOwner: p.InitialOwner,
			Asset: p.Asset, Name: p.Name, Symbol: p.Symbol,
		}
	case domain.KindVaultDeposit:
		ev = domain.VaultDeposit{
			EventMeta: meta, Sender: p.Sender, Owner: p.Owner,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindVaultWithdraw:
		ev = domain.VaultWithdraw{
			EventMeta: meta, Sender: p.Sender, Receiver: p.Receiver, Owner: p.Owner,
			Assets: a.required("assets", p.Assets), Shares: a.required("shares", p.Shares),
		}
	case domain.KindVaultTransfer:
		ev = domain.VaultTransfer{EventMeta: meta, From: p.From, To: p.To, Value: a.required("value", p.Value)}
	case domain.KindVaultAccrueInterest:
		ev = domain.VaultAccrueInterest{
			EventMeta:      meta,
			NewTotalAssets: a.required("newTotalAssets", p.NewTotalAssets),
			FeeShares:      a.required("feeShares", p.FeeShares),
		}
	case domain.KindVaultSetFeeRecipient:
		ev = domain.VaultSetFeeRecipient{EventMeta: meta, FeeRecipient: p.NewFeeRecipient}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	if a.err != nil {
		return nil, a.err
	}
	return ev, nil
}

// amounts converts wire amounts and remembers the first missing or negative one.
type amounts struct {
	kind domain.EventKind
	err  error
}

func (a *amounts) required(name string, v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		a.fail(fmt.Errorf("%w: %s.%s", ErrMissingField, a.kind, name))
		return nil
	}
	return a.unsigned(name, v)
}

func (a *amounts) optional(name string, v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return a.unsigned(name, v)
}

func (a *amounts) unsigned(name string, v *math.HexOrDecimal256) *big.Int {
	n := new(big.Int).Set((*big.Int)(v))
	if n.Sign() < 0 {
		a.fail(fmt.Errorf("%w: %s.%s = %s", ErrNegativeAmount, a.kind, name, n))
	}
	return n
}

func (a *amounts) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}
