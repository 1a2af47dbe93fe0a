package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_items (
	partition_key TEXT NOT NULL,
	sort_key      TEXT NOT NULL,
	global_id     TEXT,
	attrs         JSONB NOT NULL,
	PRIMARY KEY (partition_key, sort_key)
);
CREATE INDEX IF NOT EXISTS kv_items_global_id_idx ON kv_items (global_id) WHERE global_id IS NOT NULL;
`

// PostgresStore keeps items as jsonb rows. Writes lock the target row with
// SELECT ... FOR UPDATE and evaluate conditions in Go; a concurrent insert of
// the same key surfaces as a unique violation and is reported as a failed
// condition.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the items table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func decodeAttrs(raw string) (Item, error) {
	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return nil, err
	}
	return it, nil
}

func pgLoad(ctx context.Context, tx *sqlx.Tx, k Key) (Item, error) {
	var raw string
	err := tx.GetContext(ctx, &raw, `
		SELECT attrs
		FROM kv_items
		WHERE partition_key = $1 AND sort_key = $2
		FOR UPDATE
	`, k.PartitionKey, k.SortKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

func pgStore(ctx context.Context, tx *sqlx.Tx, k Key, it Item, exists bool) error {
	it = it.Clone()
	if it == nil {
		it = Item{}
	}
	it[AttrPartitionKey] = k.PartitionKey
	it[AttrSortKey] = k.SortKey
	raw, err := json.Marshal(Normalize(map[string]any(it)))
	if err != nil {
		return err
	}
	var globalID any
	if g := it.String(AttrGlobalID); g != "" {
		globalID = g
	}
	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE kv_items SET attrs = $3, global_id = $4
			WHERE partition_key = $1 AND sort_key = $2
		`, k.PartitionKey, k.SortKey, string(raw), globalID)
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_items (partition_key, sort_key, attrs, global_id)
		VALUES ($1, $2, $3, $4)
	`, k.PartitionKey, k.SortKey, string(raw), globalID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s inserted concurrently: %w", k, ErrConditionalCheck)
	}
	return err
}

func pgApply(ctx context.Context, tx *sqlx.Tx, op WriteOp, out *Item) error {
	current, err := pgLoad(ctx, tx, op.Key)
	if err != nil {
		return err
	}
	if !CheckCondition(current, op.Condition) {
		return fmt.Errorf("%s: %w", op.Key, ErrConditionalCheck)
	}
	switch op.Kind {
	case OpPut:
		return pgStore(ctx, tx, op.Key, op.Item, current != nil)
	case OpUpdate:
		next, err := ApplyUpdate(current, op.Update)
		if err != nil {
			return err
		}
		if err := pgStore(ctx, tx, op.Key, next, current != nil); err != nil {
			return err
		}
		if out != nil {
			next[AttrPartitionKey] = op.Key.PartitionKey
			next[AttrSortKey] = op.Key.SortKey
			*out = next
		}
		return nil
	case OpDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_items WHERE partition_key = $1 AND sort_key = $2`, op.Key.PartitionKey, op.Key.SortKey)
		return err
	}
	return fmt.Errorf("unknown write op kind %d", op.Kind)
}

func (s *PostgresStore) run(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	return storageErr(op, tx.Commit())
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Item, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `
		SELECT attrs FROM kv_items WHERE partition_key = $1 AND sort_key = $2
	`, key.PartitionKey, key.SortKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	it, err := decodeAttrs(raw)
	return it, storageErr("get", err)
}

func (s *PostgresStore) Put(ctx context.Context, key Key, item Item, cond Condition) error {
	return s.run(ctx, "put", func(tx *sqlx.Tx) error {
		return pgApply(ctx, tx, WriteOp{Kind: OpPut, Key: key, Item: item, Condition: cond}, nil)
	})
}

func (s *PostgresStore) Update(ctx context.Context, key Key, stmt UpdateStatement, cond Condition) (Item, error) {
	var out Item
	err := s.run(ctx, "update", func(tx *sqlx.Tx) error {
		return pgApply(ctx, tx, WriteOp{Kind: OpUpdate, Key: key, Update: stmt, Condition: cond}, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key, cond Condition) error {
	return s.run(ctx, "delete", func(tx *sqlx.Tx) error {
		return pgApply(ctx, tx, WriteOp{Kind: OpDelete, Key: key, Condition: cond}, nil)
	})
}

func (s *PostgresStore) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxTransactItems {
		return ErrTooManyItems
	}
	return s.run(ctx, "transact", func(tx *sqlx.Tx) error {
		for i, op := range ops {
			if err := pgApply(ctx, tx, op, nil); err != nil {
				return fmt.Errorf("transact op %d (%s): %w", i, op.Key, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	query := `
		SELECT attrs FROM kv_items
		WHERE partition_key = $1 AND left(sort_key, length($2)) = $2
		ORDER BY sort_key`
	args := []any{in.PartitionKey, in.SortPrefix}
	if in.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, in.Limit)
	}
	return s.selectItems(ctx, "query", query, args...)
}

func (s *PostgresStore) QueryIndex(ctx context.Context, globalID string) ([]Item, error) {
	return s.selectItems(ctx, "query index", `SELECT attrs FROM kv_items WHERE global_id = $1`, globalID)
}

func (s *PostgresStore) selectItems(ctx context.Context, op, query string, args ...any) ([]Item, error) {
	var raws []string
	if err := s.db.SelectContext(ctx, &raws, query, args...); err != nil {
		return nil, storageErr(op, err)
	}
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		it, err := decodeAttrs(raw)
		if err != nil {
			return nil, storageErr(op, err)
		}
		items = append(items, it)
	}
	return items, nil
}
