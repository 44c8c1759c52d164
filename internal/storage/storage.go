package storage

import (
	"context"

	"go.uber.org/multierr"

	"chainmonitor/internal/model"
)

// Sink archives contract transaction records. Sinks are write-only.
type Sink interface {
	PutTransactions(ctx context.Context, records []model.ContractTransactionRecord) error
}

// Multi writes to every sink and combines their errors.
type Multi []Sink

func (m Multi) PutTransactions(ctx context.Context, records []model.ContractTransactionRecord) error {
	var errs error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		errs = multierr.Append(errs, sink.PutTransactions(ctx, records))
	}
	return errs
}
