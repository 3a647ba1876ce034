package idhash

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var testTxHash = common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000001")

func TestLogID(t *testing.T) {
	tests := []struct {
		name     string
		logIndex uint64
		wantTail string
	}{
		{name: "first log", logIndex: 0, wantTail: strings.Repeat("0", 64)},
		{name: "log 1", logIndex: 1, wantTail: strings.Repeat("0", 63) + "1"},
		{name: "log 255", logIndex: 255, wantTail: strings.Repeat("0", 62) + "ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogID(testTxHash, tt.logIndex)

			// 0x + 64 bytes hex
			if len(got) != 2+128 {
				t.Fatalf("LogID() length = %d, want %d", len(got), 130)
			}
			if !strings.HasPrefix(got, testTxHash.Hex()) {
				t.Errorf("LogID() = %s, want prefix %s", got, testTxHash.Hex())
			}
			if !strings.HasSuffix(got, tt.wantTail) {
				t.Errorf("LogID() = %s, want suffix %s", got, tt.wantTail)
			}

			if again := LogID(testTxHash, tt.logIndex); again != got {
				t.Errorf("LogID() not deterministic: %s != %s", got, again)
			}
		})
	}
}

func TestSubLogID_DistinctSuffixes(t *testing.T) {
	base := LogID(testTxHash, 7)
	ids := map[string]struct{}{base: {}}

	for _, suffix := range [][]byte{SuffixBorrow, SuffixCollateral, SuffixBadDebt, SuffixDebit, SuffixCredit} {
		id := SubLogID(testTxHash, 7, suffix)
		if !strings.HasPrefix(id, base) {
			t.Errorf("SubLogID() = %s, want prefix %s", id, base)
		}
		if _, dup := ids[id]; dup {
			t.Errorf("SubLogID() collision for suffix %x", suffix)
		}
		ids[id] = struct{}{}
	}

	if got := SubLogID(testTxHash, 7, SuffixDebit); !strings.HasSuffix(got, "00000001") {
		t.Errorf("debit suffix = %s, want ...00000001", got)
	}
	if got := SubLogID(testTxHash, 7, SuffixBorrow); !strings.HasSuffix(got, "424f52524f57") {
		t.Errorf("borrow suffix = %s, want utf8 BORROW", got)
	}
}

func TestPositionIDs(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	market := common.HexToHash("0x01")
	vault := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	mp := MarketPositionID(user, market)
	if len(mp) != 2+2*(20+32) {
		t.Errorf("MarketPositionID() length = %d", len(mp))
	}
	if !strings.HasPrefix(mp, strings.ToLower(user.Hex())) {
		t.Errorf("MarketPositionID() = %s, want user first", mp)
	}
	if mp == MarketPositionID(other, market) {
		t.Error("MarketPositionID() must differ per user")
	}

	vp := VaultPositionID(user, vault)
	if len(vp) != 2+2*(20+20) {
		t.Errorf("VaultPositionID() length = %d", len(vp))
	}
	if vp == VaultPositionID(vault, user) {
		t.Error("VaultPositionID() must be order sensitive")
	}
}

func TestSnapshotID(t *testing.T) {
	if got := SnapshotID("0xabc", 1700000000); got != "0xabc-1700000000" {
		t.Errorf("SnapshotID() = %s", got)
	}
}

func TestMarketID_Determinism(t *testing.T) {
	loan := common.HexToAddress("0x1")
	coll := common.HexToAddress("0x2")
	oracle := common.HexToAddress("0x3")
	irm := common.HexToAddress("0x4")
	lltv := big.NewInt(860000000000000000)

	a := MarketID(loan, coll, oracle, irm, lltv)
	b := MarketID(loan, coll, oracle, irm, new(big.Int).Set(lltv))
	if a != b {
		t.Errorf("MarketID() not deterministic: %s != %s", a.Hex(), b.Hex())
	}
	if c := MarketID(coll, loan, oracle, irm, lltv); c == a {
		t.Error("MarketID() must depend on token order")
	}
	if d := MarketID(loan, coll, oracle, irm, big.NewInt(1)); d == a {
		t.Error("MarketID() must depend on lltv")
	}
}
