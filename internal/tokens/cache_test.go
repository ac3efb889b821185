package tokens

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type countingCaller struct {
	calls    int
	decimals uint8
}

func (c *countingCaller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls++
	out := make([]byte, 32)
	out[31] = c.decimals
	return out, nil
}

func TestDecimalsCacheReadThrough(t *testing.T) {
	caller := &countingCaller{decimals: 6}
	cache := NewDecimalsCache(caller)
	token := common.HexToAddress("0x01")

	for i := 0; i < 5; i++ {
		decimals, err := cache.Get(context.Background(), token)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if decimals != 6 {
			t.Fatalf("decimals = %d, want 6", decimals)
		}
	}
	if caller.calls != 1 {
		t.Fatalf("chain called %d times, want exactly 1", caller.calls)
	}

	// A second address reads through independently.
	if _, err := cache.Get(context.Background(), common.HexToAddress("0x02")); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if caller.calls != 2 {
		t.Fatalf("chain called %d times, want 2", caller.calls)
	}
}
