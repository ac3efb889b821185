package tokens

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DecimalsCache is a read-through cache of token decimals, keyed by token
// address. Entries are never evicted: decimals are immutable for a given
// address, so staleness cannot occur. The cache is passed by reference into
// every component that needs it.
type DecimalsCache struct {
	caller ContractCaller

	mu   sync.RWMutex
	data map[common.Address]uint8
}

// NewDecimalsCache builds an empty cache backed by the given caller.
func NewDecimalsCache(caller ContractCaller) *DecimalsCache {
	return &DecimalsCache{caller: caller, data: make(map[common.Address]uint8)}
}

// Get returns the token's decimals, reading through to the chain on the
// first lookup for an address.
func (c *DecimalsCache) Get(ctx context.Context, token common.Address) (uint8, error) {
	c.mu.RLock()
	decimals, ok := c.data[token]
	c.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	decimals, err := Decimals(ctx, c.caller, token)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.data[token] = decimals
	c.mu.Unlock()
	return decimals, nil
}
