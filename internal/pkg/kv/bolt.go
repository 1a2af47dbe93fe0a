package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const boltBucket = "items"

// keySep cannot appear in partition or sort keys produced by this module.
const keySep = "\x00"

// BoltStore is an embedded single-file Store. Every write runs in one bolt
// read-write transaction, so conditions and updates are evaluated atomically.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file and ensures the bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func boltKey(k Key) []byte {
	return []byte(k.PartitionKey + keySep + k.SortKey)
}

func boltGet(b *bolt.Bucket, k Key) (Item, error) {
	raw := b.Get(boltKey(k))
	if raw == nil {
		return nil, nil
	}
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return it, nil
}

func boltPut(b *bolt.Bucket, k Key, it Item) error {
	it = it.Clone()
	it[AttrPartitionKey] = k.PartitionKey
	it[AttrSortKey] = k.SortKey
	raw, err := json.Marshal(Normalize(map[string]any(it)))
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return b.Put(boltKey(k), raw)
}

func (s *BoltStore) Get(ctx context.Context, key Key) (Item, error) {
	var it Item
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		it, err = boltGet(tx.Bucket([]byte(boltBucket)), key)
		return err
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	if it == nil {
		return nil, ErrNotFound
	}
	return it, nil
}

func (s *BoltStore) Put(ctx context.Context, key Key, item Item, cond Condition) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return boltApply(tx.Bucket([]byte(boltBucket)), WriteOp{Kind: OpPut, Key: key, Item: item, Condition: cond}, nil)
	})
	return storageErr("put", err)
}

func (s *BoltStore) Update(ctx context.Context, key Key, stmt UpdateStatement, cond Condition) (Item, error) {
	var out Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		return boltApply(tx.Bucket([]byte(boltBucket)), WriteOp{Kind: OpUpdate, Key: key, Update: stmt, Condition: cond}, &out)
	})
	if err != nil {
		return nil, storageErr("update", err)
	}
	return out, nil
}

func (s *BoltStore) Delete(ctx context.Context, key Key, cond Condition) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return boltApply(tx.Bucket([]byte(boltBucket)), WriteOp{Kind: OpDelete, Key: key, Condition: cond}, nil)
	})
	return storageErr("delete", err)
}

// TransactWrite applies every op in one bolt transaction; any failure rolls all back.
func (s *BoltStore) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxTransactItems {
		return ErrTooManyItems
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		for i, op := range ops {
			if err := boltApply(b, op, nil); err != nil {
				return fmt.Errorf("transact op %d (%s): %w", i, op.Key, err)
			}
		}
		return nil
	})
	return storageErr("transact", err)
}

func boltApply(b *bolt.Bucket, op WriteOp, out *Item) error {
	current, err := boltGet(b, op.Key)
	if err != nil {
		return err
	}
	if !CheckCondition(current, op.Condition) {
		return fmt.Errorf("%s: %w", op.Key, ErrConditionalCheck)
	}
	switch op.Kind {
	case OpPut:
		return boltPut(b, op.Key, op.Item)
	case OpUpdate:
		next, err := ApplyUpdate(current, op.Update)
		if err != nil {
			return err
		}
		if err := boltPut(b, op.Key, next); err != nil {
			return err
		}
		if out != nil {
			next[AttrPartitionKey] = op.Key.PartitionKey
			next[AttrSortKey] = op.Key.SortKey
			*out = next
		}
		return nil
	case OpDelete:
		return b.Delete(boltKey(op.Key))
	}
	return fmt.Errorf("unknown write op kind %d", op.Kind)
}

func (s *BoltStore) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	prefix := []byte(in.PartitionKey + keySep + in.SortPrefix)
	items := []Item{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(boltBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var it Item
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			items = append(items, it)
			if in.Limit > 0 && len(items) >= in.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("query", err)
	}
	return items, nil
}

// QueryIndex scans the bucket for globalId matches; the embedded store keeps no index.
func (s *BoltStore) QueryIndex(ctx context.Context, globalID string) ([]Item, error) {
	items := []Item{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, v []byte) error {
			var it Item
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			if it.String(AttrGlobalID) == globalID {
				items = append(items, it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("query index", err)
	}
	return items, nil
}
