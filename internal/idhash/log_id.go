package idhash

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sub-transaction suffixes appended to a log id when one log yields several records.
var (
	SuffixBorrow     = []byte("BORROW")
	SuffixCollateral = []byte("COLLATERAL")
	SuffixBadDebt    = []byte("BAD_DEBT")
	SuffixDebit      = uint32Bytes(1) // transfer, sender side
	SuffixCredit     = uint32Bytes(2) // transfer, receiver side
)

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// logIDBytes is txHash followed by logIndex as a 32-byte big-endian word.
func logIDBytes(txHash common.Hash, logIndex uint64) []byte {
	out := make([]byte, 0, common.HashLength*2)
	out = append(out, txHash.Bytes()...)
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], logIndex)
	return append(out, word...)
}

// LogID computes the deterministic id of an event log.
// Formula: hex(txHash ++ uint256(logIndex)).
func LogID(txHash common.Hash, logIndex uint64) string {
	return hexutil.Encode(logIDBytes(txHash, logIndex))
}

// SubLogID computes the id of one of several records derived from the same log.
// Formula: hex(txHash ++ uint256(logIndex) ++ suffix).
func SubLogID(txHash common.Hash, logIndex uint64, suffix []byte) string {
	return hexutil.Encode(append(logIDBytes(txHash, logIndex), suffix...))
}
