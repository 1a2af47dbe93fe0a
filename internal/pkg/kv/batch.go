package kv

import (
	"context"

	"github.com/rs/zerolog/log"
)

// BatchResult reports how a WriteBatch went.
type BatchResult struct {
	Applied int
	Failed  []BatchFailure
}

// BatchFailure is one write that did not apply.
type BatchFailure struct {
	Index int
	Key   Key
	Err   error
}

// WriteBatch applies ops one by one without atomicity. A failed op is logged
// and skipped unless its FailOnError is set, in which case it stops the batch
// and its error is returned.
func WriteBatch(ctx context.Context, s Store, ops []WriteOp) (BatchResult, error) {
	var res BatchResult
	for i, op := range ops {
		if err := Apply(ctx, s, op); err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, Key: op.Key, Err: err})
			if op.FailOnError {
				log.Error().Err(err).Int("index", i).Str("key", op.Key.String()).Int("remaining", len(ops)-i-1).Msg("batch write aborted")
				return res, err
			}
			log.Warn().Err(err).Int("index", i).Str("key", op.Key.String()).Msg("batch write item failed, continuing")
			continue
		}
		res.Applied++
	}
	return res, nil
}

// Commit writes ops atomically when the store is a Transactor and falls back
// to an ordered WriteBatch otherwise. In the fallback only ops marked
// FailOnError can fail the commit.
func Commit(ctx context.Context, s Store, ops []WriteOp) error {
	if tx, ok := s.(Transactor); ok {
		return tx.TransactWrite(ctx, ops)
	}
	_, err := WriteBatch(ctx, s, ops)
	return err
}
