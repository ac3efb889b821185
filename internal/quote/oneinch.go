package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OneInchVenue quotes and builds swaps through a 1inch-style aggregator
// HTTP API. The quote endpoint and the swap endpoint are separate; a quote
// fetched for a request is remembered so that building the swap calldata
// for the same amounts does not price the pair a second time.
type OneInchVenue struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryPolicy

	mu         sync.Mutex
	lastKey    string
	lastAmount *big.Int
}

// NewOneInchVenue builds the venue. httpClient may be nil.
func NewOneInchVenue(baseURL, apiKey string, retry RetryPolicy, httpClient *http.Client) *OneInchVenue {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OneInchVenue{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
		retry:   retry,
	}
}

func (v *OneInchVenue) Name() string { return "1inch" }

type oneInchQuoteResponse struct {
	DstAmount string `json:"dstAmount"`
}

type oneInchSwapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

// Quote returns the destination amount for selling req.AmountIn.
func (v *OneInchVenue) Quote(ctx context.Context, req Request) (*big.Int, error) {
	params := url.Values{}
	params.Set("src", req.TokenIn.Hex())
	params.Set("dst", req.TokenOut.Hex())
	params.Set("amount", req.AmountIn.String())

	var resp oneInchQuoteResponse
	err := v.retry.Do(ctx, func(ctx context.Context) error {
		return v.getJSON(ctx, "/quote", params, &resp)
	})
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(resp.DstAmount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed dstAmount %q", resp.DstAmount)
	}
	if amount.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}

	v.mu.Lock()
	v.lastKey = req.Key()
	v.lastAmount = new(big.Int).Set(amount)
	v.mu.Unlock()

	return amount, nil
}

// SwapCalldata builds execution calldata for the request. When the request
// matches the last priced one, the remembered amount fills ExpectedOut and
// only the swap endpoint is called.
func (v *OneInchVenue) SwapCalldata(ctx context.Context, req Request, receiver common.Address) (SwapTx, error) {
	params := url.Values{}
	params.Set("src", req.TokenIn.Hex())
	params.Set("dst", req.TokenOut.Hex())
	params.Set("amount", req.AmountIn.String())
	params.Set("from", receiver.Hex())
	params.Set("slippage", "1")
	params.Set("disableEstimate", "true")

	var resp oneInchSwapResponse
	err := v.retry.Do(ctx, func(ctx context.Context) error {
		return v.getJSON(ctx, "/swap", params, &resp)
	})
	if err != nil {
		return SwapTx{}, err
	}

	data, err := hexutil.Decode(resp.Tx.Data)
	if err != nil {
		return SwapTx{}, fmt.Errorf("malformed swap calldata: %w", err)
	}

	value := new(big.Int)
	if resp.Tx.Value != "" {
		if _, ok := value.SetString(resp.Tx.Value, 10); !ok {
			return SwapTx{}, fmt.Errorf("malformed swap value %q", resp.Tx.Value)
		}
	}

	expected := new(big.Int)
	v.mu.Lock()
	if v.lastKey == req.Key() && v.lastAmount != nil {
		expected.Set(v.lastAmount)
	}
	v.mu.Unlock()
	if expected.Sign() == 0 && resp.DstAmount != "" {
		if parsed, ok := new(big.Int).SetString(resp.DstAmount, 10); ok {
			expected = parsed
		}
	}

	return SwapTx{
		To:          common.HexToAddress(resp.Tx.To),
		Data:        data,
		Value:       value,
		ExpectedOut: expected,
	}, nil
}

func (v *OneInchVenue) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := v.baseURL + path + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", path, ErrRateLimited)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "insufficient liquidity"):
		return fmt.Errorf("%s: %w", path, ErrNoLiquidity)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
