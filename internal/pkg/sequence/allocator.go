// Package sequence mints per-scope integer identifiers from a counter record
// kept next to the items it numbers. The counter is checked against the items
// on every call and rebuilt from their identifiers when it has drifted, so a
// lost or stale counter never hands out an identifier that is already in use.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
)

const (
	// CounterSortKey is the sort key of every counter record.
	CounterSortKey = "counter"
	// AttrCounterValue holds the last identifier handed out.
	AttrCounterValue = "counterValue"
	// AttrIdentifier is the numeric identifier items carry for reconciliation.
	AttrIdentifier = "identifier"

	defaultMaxResets = 3
)

// ErrResetsExhausted means the counter kept drifting across every reset round.
var ErrResetsExhausted = errors.New("counter did not converge after reset")

var counterResets = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_sequence_resets_total",
	Help: "Counter records rebuilt from item identifiers, labeled by cause",
}, []string{"reason"})

// CounterSchema admits only counterValue, set on reset and added to on
// allocation. Counter records carry no version: resets guard on the value.
func CounterSchema() fieldaction.Schema {
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			AttrCounterValue: {
				IsMandatory: true,
				Actions:     []fieldaction.Action{fieldaction.ActionSet, fieldaction.ActionAdd},
				Rules:       []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeNumber), fieldaction.AtLeast(0)},
			},
		},
		FailOnError: true,
	}
}

// Allocator hands out identifiers. It holds no state besides its store.
type Allocator struct {
	store     kv.Store
	compiler  *fieldaction.Compiler
	maxResets int
}

func NewAllocator(store kv.Store) *Allocator {
	return &Allocator{store: store, compiler: fieldaction.NewCompiler(nil), maxResets: defaultMaxResets}
}

// CounterKey is where the counter for (scopeKey, subScope) lives. Without a
// sub-scope it shares the item partition under the "counter" sort key.
func CounterKey(scopeKey string, subScope ...string) kv.Key {
	pk := scopeKey
	if prefix := strings.Join(subScope, ""); prefix != "" {
		pk = scopeKey + "::" + prefix
	}
	return kv.Key{PartitionKey: pk, SortKey: CounterSortKey}
}

// Allocate returns the next identifier for items in partition scopeKey whose
// sort key starts with the joined subScope.
//
// The increment is one conditional atomic add. Resets are conditional on the
// counter value that was observed, so two callers repairing the same counter
// cannot both win; the loser simply re-reads.
func (a *Allocator) Allocate(ctx context.Context, scopeKey string, subScope ...string) (int64, error) {
	counterKey := CounterKey(scopeKey, subScope...)
	prefix := strings.Join(subScope, "")

	for round := 0; round <= a.maxResets; round++ {
		current, missing, err := a.readCounter(ctx, counterKey)
		if err != nil {
			return 0, err
		}

		items, err := a.scopeItems(ctx, scopeKey, prefix)
		if err != nil {
			return 0, err
		}

		if missing || int64(len(items)) > current {
			reason := "drift"
			if missing {
				reason = "missing"
			}
			if err := a.reset(ctx, counterKey, current, missing, items); err != nil {
				if errors.Is(err, kv.ErrConditionalCheck) {
					log.Debug().Str("scope", counterKey.PartitionKey).Int("round", round).Msg("counter reset lost race, re-reading")
					continue
				}
				return 0, err
			}
			counterResets.WithLabelValues(reason).Inc()
			log.Warn().
				Str("scope", counterKey.PartitionKey).
				Str("reason", reason).
				Int64("observed", current).
				Int("items", len(items)).
				Int("round", round).
				Msg("sequence counter reset")
			continue
		}

		next, err := a.increment(ctx, counterKey)
		if errors.Is(err, kv.ErrConditionalCheck) {
			// counter vanished between read and increment
			continue
		}
		if err != nil {
			return 0, err
		}
		return next, nil
	}

	return 0, &kv.StorageError{Op: "allocate " + counterKey.String(), Err: ErrResetsExhausted}
}

func (a *Allocator) readCounter(ctx context.Context, key kv.Key) (int64, bool, error) {
	it, err := a.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read counter %s: %w", key, err)
	}
	return it.Int64(AttrCounterValue), false, nil
}

func (a *Allocator) scopeItems(ctx context.Context, scopeKey, prefix string) ([]kv.Item, error) {
	items, err := a.store.Query(ctx, kv.QueryInput{PartitionKey: scopeKey, SortPrefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("count items in %s: %w", scopeKey, err)
	}
	out := items[:0]
	for _, it := range items {
		if it.String(kv.AttrSortKey) == CounterSortKey {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// reset rebuilds the counter as the highest identifier in scope. The item
// count is a floor so items without an identifier still converge.
func (a *Allocator) reset(ctx context.Context, key kv.Key, observed int64, missing bool, items []kv.Item) error {
	target := int64(len(items))
	for _, it := range items {
		if id := it.Int64(AttrIdentifier); id > target {
			target = id
		}
	}

	fields := []fieldaction.Field{fieldaction.Set(AttrCounterValue, target)}
	var (
		op  kv.WriteOp
		err error
	)
	if missing {
		op, err = a.compiler.CreateOp(key, fields, CounterSchema())
	} else {
		op, err = a.compiler.UpdateOp(key, fields, CounterSchema(), map[string]any{AttrCounterValue: observed})
	}
	if err != nil {
		return err
	}
	return kv.Apply(ctx, a.store, op)
}

func (a *Allocator) increment(ctx context.Context, key kv.Key) (int64, error) {
	op, err := a.compiler.UpdateOp(key, []fieldaction.Field{fieldaction.Add(AttrCounterValue, 1)}, CounterSchema(), nil)
	if err != nil {
		return 0, err
	}
	it, err := a.store.Update(ctx, op.Key, op.Update, op.Condition)
	if err != nil {
		return 0, err
	}
	return it.Int64(AttrCounterValue), nil
}
