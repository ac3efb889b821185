// Package postgres persists the keeper's action audit trail.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitakash/ajna-keeper-sub001/internal/model"
)

// Store provides Postgres persistence for action records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutActionRecord inserts one audit row.
func (s *Store) PutActionRecord(record model.ActionRecord) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO keeper_actions (
			ts, chain_id, pool_address, borrower, action,
			auction_price, market_price, dry_run, tx_hash, gas_used, status, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		record.Time,
		int64(record.ChainID),
		record.Pool,
		record.Borrower,
		string(record.Action),
		record.AuctionPrice,
		record.MarketPrice,
		record.DryRun,
		record.TxHash,
		int64(record.GasUsed),
		record.Status,
		record.Error,
	)
	return err
}
