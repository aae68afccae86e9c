package chain

import (
	"fmt"
	"strings"
)

// StableToken describes the quote asset used for swap entries on a chain
type StableToken struct {
	Symbol   string
	Address  string
	Decimals int
}

// Chain describes a supported EVM network
type Chain struct {
	Name   string
	ID     int64
	CAIP2  string
	RPCURL string
	Stable StableToken
}

const (
	ChainBSC  = "BSC"
	ChainBase = "BASE"
)

// Registry resolves chains by name or numeric id. BSC is the default
// when a signal does not carry a chain.
type Registry struct {
	byName map[string]*Chain
	byID   map[int64]*Chain
	def    *Chain
}

// NewRegistry builds the supported chain set with the given RPC endpoints
func NewRegistry(bscRPC, baseRPC string) *Registry {
	bsc := &Chain{
		Name:   ChainBSC,
		ID:     56,
		CAIP2:  "eip155:56",
		RPCURL: bscRPC,
		Stable: StableToken{
			Symbol:   "USDT",
			Address:  "0x55d398326f99059fF775485246999027B3197955",
			Decimals: 18,
		},
	}
	base := &Chain{
		Name:   ChainBase,
		ID:     8453,
		CAIP2:  "eip155:8453",
		RPCURL: baseRPC,
		Stable: StableToken{
			Symbol:   "USDC",
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Decimals: 6,
		},
	}

	r := &Registry{
		byName: make(map[string]*Chain),
		byID:   make(map[int64]*Chain),
		def:    bsc,
	}
	for _, c := range []*Chain{bsc, base} {
		r.byName[c.Name] = c
		r.byID[c.ID] = c
	}
	return r
}

// Resolve returns the chain for a name, falling back to the default for
// an empty name. Lookups are case-insensitive.
func (r *Registry) Resolve(name string) (*Chain, error) {
	if name == "" {
		return r.def, nil
	}
	if c, ok := r.byName[strings.ToUpper(name)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unsupported chain: %s", name)
}

// ResolveID returns the chain for a numeric chain id
func (r *Registry) ResolveID(id int64) (*Chain, error) {
	if c, ok := r.byID[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unsupported chain id: %d", id)
}

// Default returns the chain used when signals omit one
func (r *Registry) Default() *Chain {
	return r.def
}

// All returns every supported chain
func (r *Registry) All() []*Chain {
	return []*Chain{r.byName[ChainBSC], r.byName[ChainBase]}
}
