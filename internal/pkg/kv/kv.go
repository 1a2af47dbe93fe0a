// Package kv is the key-value store abstraction shared by the ledger, refund
// and sequence packages. Records are addressed by a partition key and a sort
// key; mutation happens through conditional single-item writes or bounded
// all-or-nothing batches.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Attribute names every record carries.
const (
	AttrPartitionKey = "partitionKey"
	AttrSortKey      = "sortKey"
	AttrGlobalID     = "globalId"
)

// MaxTransactItems is the largest batch a single TransactWrite accepts.
const MaxTransactItems = 100

var (
	ErrNotFound         = errors.New("item not found")
	ErrConditionalCheck = errors.New("conditional check failed")
	ErrTooManyItems     = errors.New("too many items in transaction")
)

// StorageError wraps a backend failure with the operation that produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("kv %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConditionalCheck) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTooManyItems) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Key addresses one record.
type Key struct {
	PartitionKey string
	SortKey      string
}

func (k Key) String() string {
	return k.PartitionKey + "/" + k.SortKey
}

// Item is a record's attributes. Numbers are float64, lists are []any and
// maps are map[string]any, matching what JSON and DynamoDB decode into.
type Item map[string]any

// Key returns the item's primary key.
func (it Item) Key() Key {
	return Key{PartitionKey: it.String(AttrPartitionKey), SortKey: it.String(AttrSortKey)}
}

func (it Item) String(name string) string {
	s, _ := it[name].(string)
	return s
}

func (it Item) Number(name string) float64 {
	f, _ := toFloat(it[name])
	return f
}

func (it Item) Int64(name string) int64 {
	return int64(it.Number(name))
}

func (it Item) List(name string) []any {
	l, _ := it[name].([]any)
	return l
}

// Has reports whether the attribute is present.
func (it Item) Has(name string) bool {
	_, ok := it[name]
	return ok
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		l := make([]any, len(t))
		for i := range t {
			l[i] = cloneValue(t[i])
		}
		return l
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	default:
		return v
	}
}

// Precondition is the existence requirement of a conditional write.
type Precondition int

const (
	Unconditional Precondition = iota
	MustExist
	MustNotExist
)

// Condition guards a write. Equals compares attributes of the stored item
// and implies the item exists.
type Condition struct {
	Require Precondition
	Equals  map[string]any
}

// QueryInput selects items of one partition, optionally narrowed by sort-key prefix.
type QueryInput struct {
	PartitionKey string
	SortPrefix   string
	Limit        int
}

// OpKind tells a WriteOp what to do.
type OpKind int

const (
	OpPut OpKind = iota
	OpUpdate
	OpDelete
)

// WriteOp is one item write inside a batch or transaction. FailOnError makes
// a non-atomic batch stop at this op when it fails instead of logging and
// moving on.
type WriteOp struct {
	Kind        OpKind
	Key         Key
	Item        Item
	Update      UpdateStatement
	Condition   Condition
	FailOnError bool
}

// Store is the contract every backend implements.
type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	Put(ctx context.Context, key Key, item Item, cond Condition) error
	Update(ctx context.Context, key Key, stmt UpdateStatement, cond Condition) (Item, error)
	Delete(ctx context.Context, key Key, cond Condition) error
	Query(ctx context.Context, in QueryInput) ([]Item, error)
	QueryIndex(ctx context.Context, globalID string) ([]Item, error)
}

// Transactor is implemented by stores that can commit several writes atomically.
type Transactor interface {
	TransactWrite(ctx context.Context, ops []WriteOp) error
}

// Apply executes a single WriteOp against a store.
func Apply(ctx context.Context, s Store, op WriteOp) error {
	switch op.Kind {
	case OpPut:
		return s.Put(ctx, op.Key, op.Item, op.Condition)
	case OpUpdate:
		_, err := s.Update(ctx, op.Key, op.Update, op.Condition)
		return err
	case OpDelete:
		return s.Delete(ctx, op.Key, op.Condition)
	default:
		return fmt.Errorf("unknown write op kind %d", op.Kind)
	}
}
