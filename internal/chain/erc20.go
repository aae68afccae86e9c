package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// 4-byte function selectors for the ERC-20 calls the engine needs
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorAllowance = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
	selectorApprove   = []byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	selectorDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// MaxUint256 is the unlimited approval amount
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func padAddress(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}

func padBig(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// BalanceOfCalldata encodes balanceOf(owner)
func BalanceOfCalldata(owner common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, selectorBalanceOf...)
	data = append(data, padAddress(owner)...)
	return data
}

// AllowanceCalldata encodes allowance(owner, spender)
func AllowanceCalldata(owner, spender common.Address) []byte {
	data := make([]byte, 0, 68)
	data = append(data, selectorAllowance...)
	data = append(data, padAddress(owner)...)
	data = append(data, padAddress(spender)...)
	return data
}

// ApproveCalldata encodes approve(spender, amount)
func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 68)
	data = append(data, selectorApprove...)
	data = append(data, padAddress(spender)...)
	data = append(data, padBig(amount)...)
	return data
}

// DecimalsCalldata encodes decimals()
func DecimalsCalldata() []byte {
	return append([]byte{}, selectorDecimals...)
}

// ParseUint256 decodes a single uint256 return value
func ParseUint256(result []byte) (*big.Int, error) {
	if len(result) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

// FromTokenUnits converts a raw token amount to a float using its decimals
func FromTokenUnits(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// ToTokenUnits converts a float amount to raw token units
func ToTokenUnits(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}
