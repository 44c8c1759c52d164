package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chainmonitor/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS contract_transactions (
	tx_hash       TEXT PRIMARY KEY,
	contract_name TEXT NOT NULL,
	from_address  TEXT NOT NULL,
	to_address    TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	gas_used      BIGINT NOT NULL,
	status        TEXT NOT NULL,
	block_time    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS contract_events (
	tx_hash       TEXT NOT NULL,
	log_index     INTEGER NOT NULL,
	contract_name TEXT NOT NULL,
	event_name    TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	fields        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS contract_events_name_idx ON contract_events (contract_name, event_name);
`

// Store archives contract transactions into Postgres.
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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutTransactions inserts records and their events. Rows already present
// are left untouched.
func (s *Store) PutTransactions(ctx context.Context, records []model.ContractTransactionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, queued, err := buildBatch(records)
	if err != nil {
		return err
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func buildBatch(records []model.ContractTransactionRecord) (*pgx.Batch, int, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO contract_transactions (
				tx_hash, contract_name, from_address, to_address, block_number, gas_used, status, block_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_hash) DO NOTHING
		`,
			rec.Hash,
			rec.ContractName,
			rec.From,
			rec.To,
			int64(rec.BlockNumber),
			int64(rec.GasUsed),
			string(rec.Status),
			int64(rec.Timestamp),
		)
		queued++

		for _, event := range rec.Events {
			fields, err := json.Marshal(event.Fields)
			if err != nil {
				return nil, 0, fmt.Errorf("marshal fields %s/%d: %w", event.TransactionHash, event.LogIndex, err)
			}
			batch.Queue(`
				INSERT INTO contract_events (
					tx_hash, log_index, contract_name, event_name, block_number, fields
				) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tx_hash, log_index) DO NOTHING
			`,
				event.TransactionHash,
				int64(event.LogIndex),
				event.ContractName,
				event.EventName,
				int64(event.BlockNumber),
				fields,
			)
			queued++
		}
	}
	return batch, queued, nil
}
