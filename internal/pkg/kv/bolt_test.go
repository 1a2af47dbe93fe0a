package kv_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mwork/booking-ledger/internal/pkg/kv"
)

func newTestStore(t *testing.T) *kv.BoltStore {
	t.Helper()
	s, err := kv.NewBoltStore(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltPutConditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := kv.Key{PartitionKey: "p", SortKey: "a"}

	if err := s.Put(ctx, key, kv.Item{"v": 1}, kv.Condition{Require: kv.MustNotExist}); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	err := s.Put(ctx, key, kv.Item{"v": 2}, kv.Condition{Require: kv.MustNotExist})
	if !errors.Is(err, kv.ErrConditionalCheck) {
		t.Fatalf("expected ErrConditionalCheck, got %v", err)
	}

	it, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if it.Int64("v") != 1 {
		t.Fatalf("expected original value to survive, got %v", it["v"])
	}
	if it.String(kv.AttrPartitionKey) != "p" || it.String(kv.AttrSortKey) != "a" {
		t.Fatalf("expected key attributes on stored item, got %v", it)
	}

	if _, err := s.Get(ctx, kv.Key{PartitionKey: "p", SortKey: "missing"}); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoltUpdateReturnsNewItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := kv.Key{PartitionKey: "p", SortKey: "counter"}

	_, err := s.Update(ctx, key, kv.UpdateStatement{Set: []kv.Assignment{{Field: "n", Op: kv.SetAdd, Value: 1}}}, kv.Condition{Require: kv.MustExist})
	if !errors.Is(err, kv.ErrConditionalCheck) {
		t.Fatalf("expected conditional failure on missing item, got %v", err)
	}

	for i := 1; i <= 3; i++ {
		it, err := s.Update(ctx, key, kv.UpdateStatement{Set: []kv.Assignment{{Field: "n", Op: kv.SetAdd, Value: 1}}}, kv.Condition{})
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if it.Int64("n") != int64(i) {
			t.Fatalf("expected %d, got %v", i, it["n"])
		}
	}

	_, err = s.Update(ctx, key, kv.UpdateStatement{Set: []kv.Assignment{{Field: "n", Op: kv.SetValue, Value: 10}}},
		kv.Condition{Equals: map[string]any{"n": 2}})
	if !errors.Is(err, kv.ErrConditionalCheck) {
		t.Fatalf("expected stale-value condition to fail, got %v", err)
	}
}

func TestBoltQueryPrefixAndIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	puts := []kv.Key{
		{PartitionKey: "day", SortKey: "TX1"},
		{PartitionKey: "day", SortKey: "refund::R1"},
		{PartitionKey: "day", SortKey: "refund::R2"},
		{PartitionKey: "day::refund::", SortKey: "counter"},
		{PartitionKey: "other", SortKey: "refund::R3"},
	}
	for _, k := range puts {
		if err := s.Put(ctx, k, kv.Item{kv.AttrGlobalID: k.SortKey}, kv.Condition{}); err != nil {
			t.Fatalf("put %s failed: %v", k, err)
		}
	}

	items, err := s.Query(ctx, kv.QueryInput{PartitionKey: "day", SortPrefix: "refund::"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 refunds in partition, got %d", len(items))
	}

	all, err := s.Query(ctx, kv.QueryInput{PartitionKey: "day"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 items in partition, got %d", len(all))
	}

	limited, _ := s.Query(ctx, kv.QueryInput{PartitionKey: "day", Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	byID, err := s.QueryIndex(ctx, "refund::R3")
	if err != nil {
		t.Fatalf("index query failed: %v", err)
	}
	if len(byID) != 1 || byID[0].String(kv.AttrPartitionKey) != "other" {
		t.Fatalf("unexpected index result %v", byID)
	}
}

func TestBoltTransactWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	existing := kv.Key{PartitionKey: "p", SortKey: "ledger"}
	if err := s.Put(ctx, existing, kv.Item{"version": 1}, kv.Condition{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	ops := []kv.WriteOp{
		{Kind: kv.OpPut, Key: kv.Key{PartitionKey: "p", SortKey: "refund::1"}, Item: kv.Item{"amount": 5}, Condition: kv.Condition{Require: kv.MustNotExist}},
		{Kind: kv.OpUpdate, Key: existing, Update: kv.UpdateStatement{Set: []kv.Assignment{{Field: "version", Op: kv.SetAdd, Value: 1}}},
			Condition: kv.Condition{Equals: map[string]any{"version": 99}}},
	}
	err := s.TransactWrite(ctx, ops)
	if !errors.Is(err, kv.ErrConditionalCheck) {
		t.Fatalf("expected conditional failure, got %v", err)
	}
	if _, err := s.Get(ctx, kv.Key{PartitionKey: "p", SortKey: "refund::1"}); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected first op rolled back, got %v", err)
	}

	ops[1].Condition = kv.Condition{Equals: map[string]any{"version": 1}}
	if err := s.TransactWrite(ctx, ops); err != nil {
		t.Fatalf("transact failed: %v", err)
	}
	it, _ := s.Get(ctx, existing)
	if it.Int64("version") != 2 {
		t.Fatalf("expected version 2, got %v", it["version"])
	}

	tooMany := make([]kv.WriteOp, kv.MaxTransactItems+1)
	if err := s.TransactWrite(ctx, tooMany); !errors.Is(err, kv.ErrTooManyItems) {
		t.Fatalf("expected ErrTooManyItems, got %v", err)
	}
}

// plainStore hides TransactWrite so Commit falls back to a batch.
type plainStore struct{ kv.Store }

func TestCommitFallsBackToBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Put(ctx, kv.Key{PartitionKey: "p", SortKey: "dup"}, kv.Item{}, kv.Condition{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	ops := []kv.WriteOp{
		{Kind: kv.OpPut, Key: kv.Key{PartitionKey: "p", SortKey: "a"}, Item: kv.Item{}},
		{Kind: kv.OpPut, Key: kv.Key{PartitionKey: "p", SortKey: "dup"}, Item: kv.Item{}, Condition: kv.Condition{Require: kv.MustNotExist}},
		{Kind: kv.OpPut, Key: kv.Key{PartitionKey: "p", SortKey: "b"}, Item: kv.Item{}},
	}

	res, err := kv.WriteBatch(ctx, plainStore{s}, ops)
	if err != nil {
		t.Fatalf("log-and-continue batch returned error: %v", err)
	}
	if res.Applied != 2 || len(res.Failed) != 1 || res.Failed[0].Index != 1 {
		t.Fatalf("unexpected batch result %+v", res)
	}

	ops[0].Key.SortKey, ops[2].Key.SortKey = "c", "d"
	ops[1].FailOnError = true
	err = kv.Commit(ctx, plainStore{s}, ops)
	if !errors.Is(err, kv.ErrConditionalCheck) {
		t.Fatalf("expected fail-on-error abort, got %v", err)
	}
	if _, err := s.Get(ctx, kv.Key{PartitionKey: "p", SortKey: "d"}); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected items after the failure to be skipped, got %v", err)
	}
	if _, err := s.Get(ctx, kv.Key{PartitionKey: "p", SortKey: "c"}); err != nil {
		t.Fatalf("expected items before the failure to be written, got %v", err)
	}
}
