package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client reads token metadata and balances, sharing one decimals cache
// across every component that holds a reference to it.
type Client struct {
	caller ContractCaller
	cache  *DecimalsCache
}

// NewClient builds a token client around the given cache.
func NewClient(caller ContractCaller, cache *DecimalsCache) *Client {
	if cache == nil {
		cache = NewDecimalsCache(caller)
	}
	return &Client{caller: caller, cache: cache}
}

// Decimals returns the token's decimals through the shared cache.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return c.cache.Get(ctx, token)
}

// Allowance reads the owner->spender allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return Allowance(ctx, c.caller, token, owner, spender)
}

// BalanceOf reads an account's token balance.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return BalanceOf(ctx, c.caller, token, account)
}
