package idhash

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// MarketPositionID identifies a user's position in a market.
// Formula: hex(user ++ marketID). User always comes first.
func MarketPositionID(user common.Address, market common.Hash) string {
	return hexutil.Encode(append(user.Bytes(), market.Bytes()...))
}

// VaultPositionID identifies a user's position in a vault.
// Formula: hex(user ++ vault).
func VaultPositionID(user, vault common.Address) string {
	return hexutil.Encode(append(user.Bytes(), vault.Bytes()...))
}

// SnapshotID identifies an entity's state at a timestamp.
// Formula: "<entityID>-<timestamp>".
func SnapshotID(entityID string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", entityID, timestamp)
}

// MarketID computes a market id from its params the way the lending contract
// does: keccak256(abi.encode(loanToken, collateralToken, oracle, irm, lltv)).
func MarketID(loanToken, collateralToken, oracle, irm common.Address, lltv *big.Int) common.Hash {
	if lltv == nil {
		lltv = new(big.Int)
	}
	encoded := make([]byte, 0, 5*32)
	for _, addr := range []common.Address{loanToken, collateralToken, oracle, irm} {
		encoded = append(encoded, common.LeftPadBytes(addr.Bytes(), 32)...)
	}
	encoded = append(encoded, common.LeftPadBytes(lltv.Bytes(), 32)...)
	return crypto.Keccak256Hash(encoded)
}

// AddressID is the lowercase hex form of an address, used as a vault's entity id.
func AddressID(addr common.Address) string {
	return hexutil.Encode(addr.Bytes())
}
