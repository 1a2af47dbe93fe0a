package ledger

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

// Store exposes the underlying store for callers composing multi-record commits.
func (r *Repository) Store() kv.Store {
	return r.store
}

// GetByID resolves a transaction through the globalId index.
func (r *Repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	items, err := r.store.QueryIndex(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup transaction %s: %w", id, err)
	}
	for _, it := range items {
		if it.String(kv.AttrSortKey) == id {
			return fromItem(it), nil
		}
	}
	return nil, ErrNotFound
}

// Get reads a transaction by its primary key.
func (r *Repository) Get(ctx context.Context, key kv.Key) (*Transaction, error) {
	it, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", key, err)
	}
	return fromItem(it), nil
}

// ListByDate returns every transaction created on the bucket's day.
func (r *Repository) ListByDate(ctx context.Context, partitionKey string) ([]*Transaction, error) {
	items, err := r.store.Query(ctx, kv.QueryInput{PartitionKey: partitionKey, SortPrefix: IDPrefix})
	if err != nil {
		return nil, fmt.Errorf("list transactions in %s: %w", partitionKey, err)
	}
	out := make([]*Transaction, 0, len(items))
	for _, it := range items {
		out = append(out, fromItem(it))
	}
	return out, nil
}

// Apply runs a compiled write, mapping a failed version guard to ErrVersionChanged.
func (r *Repository) Apply(ctx context.Context, op kv.WriteOp) error {
	err := kv.Apply(ctx, r.store, op)
	if errors.Is(err, kv.ErrConditionalCheck) {
		return ErrVersionChanged
	}
	return err
}
