package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestGetLoansParsesIndexerOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"data":{"pool":{
			"lup":"0.85",
			"loans":[
				{"borrower":"0x00000000000000000000000000000000000000a1","thresholdPrice":"0.9","neutralPrice":"1.1","debt":"100","collateralPledged":"120","inLiquidation":false},
				{"borrower":"0x00000000000000000000000000000000000000a2","thresholdPrice":"0.7","neutralPrice":"0.95","debt":"50","collateralPledged":"80","inLiquidation":true}
			]}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, time.Millisecond, server.Client(), nil)
	result, err := client.GetLoans(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("GetLoans failed: %v", err)
	}

	if result.LUP != 0.85 {
		t.Fatalf("lup = %v, want 0.85", result.LUP)
	}
	if len(result.Loans) != 2 {
		t.Fatalf("expected 2 loans, got %d", len(result.Loans))
	}
	if result.Loans[0].Borrower != common.HexToAddress("0xa1") {
		t.Fatalf("loans out of indexer order: %+v", result.Loans)
	}
	if !result.Loans[1].InLiquidation || result.Loans[1].Debt != 50 {
		t.Fatalf("second loan parsed wrong: %+v", result.Loans[1])
	}
}

func TestQueryRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"pool":{"liquidationAuctions":[]}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5, time.Millisecond, server.Client(), nil)
	auctions, err := client.GetUnsettledAuctions(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if len(auctions) != 0 {
		t.Fatalf("expected no auctions, got %d", len(auctions))
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestQuerySurfacesGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"pool not found"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, time.Millisecond, server.Client(), nil)
	if _, err := client.GetUnsettledAuctions(context.Background(), common.HexToAddress("0x01")); err == nil {
		t.Fatal("expected a graphql error")
	}
}
