// Package subgraph queries the protocol indexer for candidate borrowers,
// auctions, and buckets.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Client is a GraphQL HTTP client for the protocol subgraph.
type Client struct {
	url        string
	httpClient *http.Client
	retry      retryPolicy
	logger     *zap.Logger
}

// NewClient builds a subgraph client. httpClient may be nil.
func NewClient(url string, maxRetries int, backoff time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
		retry:      retryPolicy{extraAttempts: maxRetries, baseDelay: backoff},
		logger:     logger,
	}
}

// Loan is a candidate borrower position as indexed.
type Loan struct {
	Borrower          common.Address
	ThresholdPrice    float64
	NeutralPrice      float64
	Debt              float64
	CollateralPledged float64
	InLiquidation     bool
}

// LoansResult carries the pool's lup along with the indexed loans, in
// indexer order.
type LoansResult struct {
	LUP   float64
	Loans []Loan
}

// AuctionRef is an auction reference as indexed.
type AuctionRef struct {
	Borrower       common.Address
	Kicker         common.Address
	KickTime       time.Time
	ReferencePrice float64
	Collateral     float64
	Debt           float64
	Settled        bool
}

// LiquidationsResult carries the pool's highest price bucket alongside the
// indexed auctions.
type LiquidationsResult struct {
	HPB      float64
	HPBIndex uint64
	Auctions []AuctionRef
}

// BucketRef is a price bucket as indexed.
type BucketRef struct {
	Index   uint64
	Price   float64
	Deposit float64
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// GetLoans returns the pool's lup and its loans in indexer order.
func (c *Client) GetLoans(ctx context.Context, pool common.Address) (LoansResult, error) {
	const query = `query ($pool: ID!) {
  pool(id: $pool) {
    lup
    loans(where: {debt_gt: 0}) {
      borrower
      thresholdPrice
      neutralPrice
      debt
      collateralPledged
      inLiquidation
    }
  }
}`

	var payload struct {
		Pool *struct {
			LUP   string `json:"lup"`
			Loans []struct {
				Borrower          string `json:"borrower"`
				ThresholdPrice    string `json:"thresholdPrice"`
				NeutralPrice      string `json:"neutralPrice"`
				Debt              string `json:"debt"`
				CollateralPledged string `json:"collateralPledged"`
				InLiquidation     bool   `json:"inLiquidation"`
			} `json:"loans"`
		} `json:"pool"`
	}
	if err := c.query(ctx, query, map[string]interface{}{"pool": strings.ToLower(pool.Hex())}, &payload); err != nil {
		return LoansResult{}, err
	}
	if payload.Pool == nil {
		return LoansResult{}, fmt.Errorf("pool %s not indexed", pool.Hex())
	}

	result := LoansResult{Loans: make([]Loan, 0, len(payload.Pool.Loans))}
	var err error
	if result.LUP, err = parseDecimal(payload.Pool.LUP, "lup"); err != nil {
		return LoansResult{}, err
	}
	for _, raw := range payload.Pool.Loans {
		loan := Loan{
			Borrower:      common.HexToAddress(raw.Borrower),
			InLiquidation: raw.InLiquidation,
		}
		if loan.ThresholdPrice, err = parseDecimal(raw.ThresholdPrice, "thresholdPrice"); err != nil {
			return LoansResult{}, err
		}
		if loan.NeutralPrice, err = parseDecimal(raw.NeutralPrice, "neutralPrice"); err != nil {
			return LoansResult{}, err
		}
		if loan.Debt, err = parseDecimal(raw.Debt, "debt"); err != nil {
			return LoansResult{}, err
		}
		if loan.CollateralPledged, err = parseDecimal(raw.CollateralPledged, "collateralPledged"); err != nil {
			return LoansResult{}, err
		}
		result.Loans = append(result.Loans, loan)
	}
	return result, nil
}

// GetLiquidations returns active auctions with at least minCollateral
// remaining, plus the pool's highest price bucket.
func (c *Client) GetLiquidations(ctx context.Context, pool common.Address, minCollateral float64) (LiquidationsResult, error) {
	const query = `query ($pool: ID!, $minCollateral: BigDecimal!) {
  pool(id: $pool) {
    hpb
    hpbIndex
    liquidationAuctions(where: {settled: false, collateralRemaining_gte: $minCollateral}) {
      borrower
      kicker
      kickTime
      referencePrice
      collateralRemaining
      debtRemaining
      settled
    }
  }
}`

	var payload struct {
		Pool *struct {
			HPB      string       `json:"hpb"`
			HPBIndex json.Number  `json:"hpbIndex"`
			Auctions []rawAuction `json:"liquidationAuctions"`
		} `json:"pool"`
	}
	vars := map[string]interface{}{
		"pool":          strings.ToLower(pool.Hex()),
		"minCollateral": strconv.FormatFloat(minCollateral, 'f', -1, 64),
	}
	if err := c.query(ctx, query, vars, &payload); err != nil {
		return LiquidationsResult{}, err
	}
	if payload.Pool == nil {
		return LiquidationsResult{}, fmt.Errorf("pool %s not indexed", pool.Hex())
	}

	result := LiquidationsResult{}
	var err error
	if result.HPB, err = parseDecimal(payload.Pool.HPB, "hpb"); err != nil {
		return LiquidationsResult{}, err
	}
	hpbIndex, err := payload.Pool.HPBIndex.Int64()
	if err != nil {
		return LiquidationsResult{}, fmt.Errorf("hpbIndex: %w", err)
	}
	result.HPBIndex = uint64(hpbIndex)

	if result.Auctions, err = parseAuctions(payload.Pool.Auctions); err != nil {
		return LiquidationsResult{}, err
	}
	return result, nil
}

// GetUnsettledAuctions returns auctions that are not yet settled,
// regardless of remaining collateral.
func (c *Client) GetUnsettledAuctions(ctx context.Context, pool common.Address) ([]AuctionRef, error) {
	const query = `query ($pool: ID!) {
  pool(id: $pool) {
    liquidationAuctions(where: {settled: false}) {
      borrower
      kicker
      kickTime
      referencePrice
      collateralRemaining
      debtRemaining
      settled
    }
  }
}`

	var payload struct {
		Pool *struct {
			Auctions []rawAuction `json:"liquidationAuctions"`
		} `json:"pool"`
	}
	if err := c.query(ctx, query, map[string]interface{}{"pool": strings.ToLower(pool.Hex())}, &payload); err != nil {
		return nil, err
	}
	if payload.Pool == nil {
		return nil, fmt.Errorf("pool %s not indexed", pool.Hex())
	}
	return parseAuctions(payload.Pool.Auctions)
}

// GetHighestMeaningfulBucket returns the best-priced buckets with at least
// minDeposit of usable deposit, highest price first.
func (c *Client) GetHighestMeaningfulBucket(ctx context.Context, pool common.Address, minDeposit float64) ([]BucketRef, error) {
	const query = `query ($pool: Bytes!, $minDeposit: BigDecimal!) {
  buckets(
    where: {poolAddress: $pool, deposit_gte: $minDeposit}
    orderBy: bucketPrice
    orderDirection: desc
    first: 1
  ) {
    bucketIndex
    bucketPrice
    deposit
  }
}`

	var payload struct {
		Buckets []struct {
			BucketIndex json.Number `json:"bucketIndex"`
			BucketPrice string      `json:"bucketPrice"`
			Deposit     string      `json:"deposit"`
		} `json:"buckets"`
	}
	vars := map[string]interface{}{
		"pool":       strings.ToLower(pool.Hex()),
		"minDeposit": strconv.FormatFloat(minDeposit, 'f', -1, 64),
	}
	if err := c.query(ctx, query, vars, &payload); err != nil {
		return nil, err
	}

	buckets := make([]BucketRef, 0, len(payload.Buckets))
	for _, raw := range payload.Buckets {
		index, err := raw.BucketIndex.Int64()
		if err != nil {
			return nil, fmt.Errorf("bucketIndex: %w", err)
		}
		bucket := BucketRef{Index: uint64(index)}
		if bucket.Price, err = parseDecimal(raw.BucketPrice, "bucketPrice"); err != nil {
			return nil, err
		}
		if bucket.Deposit, err = parseDecimal(raw.Deposit, "deposit"); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

type rawAuction struct {
	Borrower            string      `json:"borrower"`
	Kicker              string      `json:"kicker"`
	KickTime            json.Number `json:"kickTime"`
	ReferencePrice      string      `json:"referencePrice"`
	CollateralRemaining string      `json:"collateralRemaining"`
	DebtRemaining       string      `json:"debtRemaining"`
	Settled             bool        `json:"settled"`
}

func parseAuctions(raws []rawAuction) ([]AuctionRef, error) {
	auctions := make([]AuctionRef, 0, len(raws))
	for _, raw := range raws {
		auction := AuctionRef{
			Borrower: common.HexToAddress(raw.Borrower),
			Kicker:   common.HexToAddress(raw.Kicker),
			Settled:  raw.Settled,
		}
		kickTime, err := raw.KickTime.Int64()
		if err != nil {
			return nil, fmt.Errorf("kickTime: %w", err)
		}
		if kickTime > 0 {
			auction.KickTime = time.Unix(kickTime, 0).UTC()
		}
		if auction.ReferencePrice, err = parseDecimal(raw.ReferencePrice, "referencePrice"); err != nil {
			return nil, err
		}
		if auction.Collateral, err = parseDecimal(raw.CollateralRemaining, "collateralRemaining"); err != nil {
			return nil, err
		}
		if auction.Debt, err = parseDecimal(raw.DebtRemaining, "debtRemaining"); err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, nil
}

func (c *Client) query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	return c.retry.do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("subgraph request failed", zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("subgraph status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
			c.logger.Warn("subgraph request rejected", zap.Error(err))
			return err
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decode subgraph response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message)
		}
		return json.Unmarshal(envelope.Data, out)
	})
}

func parseDecimal(value, field string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return parsed, nil
}
