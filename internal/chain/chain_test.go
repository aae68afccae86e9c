package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry("https://bsc.example", "https://base.example")

	tests := []struct {
		name    string
		input   string
		wantID  int64
		wantErr bool
	}{
		{"bsc upper", "BSC", 56, false},
		{"bsc lower", "bsc", 56, false},
		{"base mixed", "Base", 8453, false},
		{"empty falls back to default", "", 56, false},
		{"unknown", "SOLANA", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Resolve(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.input, err)
			}
			if c.ID != tt.wantID {
				t.Errorf("chain id = %d, want %d", c.ID, tt.wantID)
			}
		})
	}
}

func TestRegistryStableAssets(t *testing.T) {
	r := NewRegistry("", "")

	bsc, _ := r.Resolve(ChainBSC)
	if bsc.Stable.Symbol != "USDT" || bsc.Stable.Decimals != 18 {
		t.Errorf("BSC stable = %s/%d, want USDT/18", bsc.Stable.Symbol, bsc.Stable.Decimals)
	}
	if bsc.CAIP2 != "eip155:56" {
		t.Errorf("BSC caip2 = %s", bsc.CAIP2)
	}

	base, _ := r.Resolve(ChainBase)
	if base.Stable.Symbol != "USDC" || base.Stable.Decimals != 6 {
		t.Errorf("Base stable = %s/%d, want USDC/6", base.Stable.Symbol, base.Stable.Decimals)
	}

	byID, err := r.ResolveID(8453)
	if err != nil || byID.Name != ChainBase {
		t.Errorf("ResolveID(8453) = %v, %v", byID, err)
	}
}

func TestApproveCalldata(t *testing.T) {
	spender := common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582")
	data := ApproveCalldata(spender, big.NewInt(1000))

	if len(data) != 68 {
		t.Fatalf("calldata length = %d, want 68", len(data))
	}
	if hex.EncodeToString(data[:4]) != "095ea7b3" {
		t.Errorf("selector = %x, want 095ea7b3", data[:4])
	}
	// Address occupies the last 20 bytes of the first argument word
	if common.BytesToAddress(data[16:36]) != spender {
		t.Errorf("encoded spender mismatch")
	}
	amount := new(big.Int).SetBytes(data[36:])
	if amount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("encoded amount = %s, want 1000", amount)
	}
}

func TestBalanceOfCalldata(t *testing.T) {
	owner := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	data := BalanceOfCalldata(owner)

	if len(data) != 36 {
		t.Fatalf("calldata length = %d, want 36", len(data))
	}
	if hex.EncodeToString(data[:4]) != "70a08231" {
		t.Errorf("selector = %x, want 70a08231", data[:4])
	}
}

func TestParseUint256(t *testing.T) {
	word := make([]byte, 32)
	word[31] = 0x2a
	v, err := ParseUint256(word)
	if err != nil {
		t.Fatalf("ParseUint256: %v", err)
	}
	if v.Int64() != 42 {
		t.Errorf("value = %d, want 42", v.Int64())
	}

	if _, err := ParseUint256([]byte{0x01}); err == nil {
		t.Error("short data should error")
	}
}

func TestTokenUnitConversion(t *testing.T) {
	tests := []struct {
		amount   float64
		decimals int
	}{
		{100.0, 18},
		{0.5, 6},
		{1234.56, 18},
	}
	for _, tt := range tests {
		raw := ToTokenUnits(tt.amount, tt.decimals)
		back := FromTokenUnits(raw, tt.decimals)
		diff := back - tt.amount
		if diff < 0 {
			diff = -diff
		}
		if diff > 1e-6 {
			t.Errorf("round trip %f/%d = %f", tt.amount, tt.decimals, back)
		}
	}

	if FromTokenUnits(nil, 18) != 0 {
		t.Error("nil raw amount should convert to 0")
	}
}

func TestMaxUint256(t *testing.T) {
	// 2^256 - 1 fills all 32 bytes
	b := padBig(MaxUint256)
	for i, v := range b {
		if v != 0xff {
			t.Fatalf("byte %d = %x, want ff", i, v)
		}
	}
}
