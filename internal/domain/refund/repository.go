package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwork/booking-ledger/internal/pkg/kv"
)

type Repository struct {
	store kv.Store
}

func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

// ListForTransaction returns the refunds of one transaction, oldest sequence first.
func (r *Repository) ListForTransaction(ctx context.Context, partitionKey, transactionID string) ([]*Refund, error) {
	all, err := r.ListByPartition(ctx, partitionKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Refund, 0, len(all))
	for _, rf := range all {
		if rf.OriginalTransactionID == transactionID {
			out = append(out, rf)
		}
	}
	return out, nil
}

// ListByPartition returns every refund in a ledger date bucket.
func (r *Repository) ListByPartition(ctx context.Context, partitionKey string) ([]*Refund, error) {
	items, err := r.store.Query(ctx, kv.QueryInput{PartitionKey: partitionKey, SortPrefix: SortKeyPrefix})
	if err != nil {
		return nil, fmt.Errorf("list refunds in %s: %w", partitionKey, err)
	}
	out := make([]*Refund, 0, len(items))
	for _, it := range items {
		out = append(out, fromItem(it))
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, key kv.Key) (*Refund, error) {
	it, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refund %s: %w", key, err)
	}
	return fromItem(it), nil
}

// GetByID resolves a refund through the globalId index.
func (r *Repository) GetByID(ctx context.Context, refundID string) (*Refund, error) {
	items, err := r.store.QueryIndex(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("lookup refund %s: %w", refundID, err)
	}
	for _, it := range items {
		if it.String(kv.AttrSortKey) == SortKey(refundID) {
			return fromItem(it), nil
		}
	}
	return nil, ErrNotFound
}
