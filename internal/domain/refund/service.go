package refund

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/pkg/apperr"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

const defaultIdempotencyWindow = 3 * time.Minute

type Config struct {
	IdempotencyWindow time.Duration
	DeveloperMode     bool
}

// Service runs the refund saga. It never retries internally: the caller
// retries the request leg and the queue retries the gateway leg.
type Service struct {
	store     kv.Store
	ledger    *ledger.Repository
	repo      *Repository
	allocator *sequence.Allocator
	compiler  *fieldaction.Compiler
	publisher queue.Publisher
	cfg       Config
}

func NewService(store kv.Store, ledgerRepo *ledger.Repository, repo *Repository, allocator *sequence.Allocator, compiler *fieldaction.Compiler, publisher queue.Publisher, cfg Config) *Service {
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = defaultIdempotencyWindow
	}
	return &Service{
		store:     store,
		ledger:    ledgerRepo,
		repo:      repo,
		allocator: allocator,
		compiler:  compiler,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *Service) schema(base fieldaction.Schema) fieldaction.Schema {
	base.DeveloperMode = s.cfg.DeveloperMode
	return base
}

// RequestRefund walks ownership, eligibility and idempotency checks, records
// the refund and the ledger change in one commit, then hands settlement to
// the queue. Every rejection happens before the first write.
func (s *Service) RequestRefund(ctx context.Context, req Request) (*Result, error) {
	res, err := s.requestRefund(ctx, req)
	switch {
	case err == nil:
		refundRequestsTotal.WithLabelValues(string(res.Outcome)).Inc()
	case apperr.IsKind(err, apperr.KindConflict):
		refundRequestsTotal.WithLabelValues(outcomeConflict).Inc()
	case apperr.HTTPStatus(err) >= 500:
		refundRequestsTotal.WithLabelValues(outcomeFailed).Inc()
	default:
		refundRequestsTotal.WithLabelValues(outcomeRejected).Inc()
	}
	return res, err
}

func (s *Service) requestRefund(ctx context.Context, req Request) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("%v", ErrInvalidAmount)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, apperr.Validation("%v, got %s", ErrAmountPrecision, req.Amount.String())
	}
	logger := log.With().
		Str("transaction_id", req.TransactionID).
		Str("user_id", req.UserID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Logger()

	// ownership
	txn, err := s.ledger.GetByID(ctx, req.TransactionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("transaction %s not found", req.TransactionID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load transaction")
	}
	if txn.UserID != req.UserID.String() {
		return nil, apperr.Forbidden("%v", ErrNotOwner)
	}

	// eligibility
	switch txn.Status {
	case ledger.StatusPaid, ledger.StatusPartialRefund, ledger.StatusRefunded:
	default:
		return nil, apperr.Conflict(ErrNotEligible, "transaction %s is %q", txn.ID, txn.Status)
	}

	// idempotency and totals
	prior, err := s.repo.ListForTransaction(ctx, txn.PartitionKey, txn.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load prior refunds")
	}
	hash := Hash(req.UserID.String(), txn.ID, req.Amount)
	now := s.compiler.Now()

	if txn.Status == ledger.StatusRefunded {
		// a retry of a refund that closed the transaction is a no-op; anything
		// else asks for money that is no longer there
		for _, rf := range prior {
			if rf.Hash == hash && rf.Counts() {
				logger.Info().Str("refund_id", rf.ID).Msg("refund skipped, transaction already refunded")
				return &Result{
					Outcome:          OutcomeAlreadyRefunded,
					RefundID:         rf.ID,
					TransactionID:    txn.ID,
					RefundSequence:   rf.Sequence,
					TotalAfterRefund: committedTotal(prior),
				}, nil
			}
		}
		return nil, apperr.Validation("refund of %s %v (transaction %s is fully refunded)",
			req.Amount.StringFixed(2), ErrExceedsAmount, txn.ID)
	}
	if dup := s.findDuplicate(prior, hash, now); dup != nil {
		logger.Info().Str("refund_id", dup.ID).Msg("duplicate refund request inside idempotency window")
		return &Result{
			Outcome:          OutcomeAlreadyProcessed,
			RefundID:         dup.ID,
			TransactionID:    txn.ID,
			RefundSequence:   dup.Sequence,
			TotalAfterRefund: committedTotal(prior),
		}, nil
	}

	sequenceNo := int64(len(prior)) + 1
	total := committedTotal(prior).Add(req.Amount)
	if total.GreaterThan(txn.Amount) {
		return nil, apperr.Validation("refund of %s %v (refunded %s of %s)",
			req.Amount.StringFixed(2), ErrExceedsAmount, committedTotal(prior).StringFixed(2), txn.Amount.StringFixed(2))
	}
	pending := ledger.StatusPartialRefund
	if total.Equal(txn.Amount) {
		pending = ledger.StatusRefunded
	}

	// persist refund and ledger change
	bucket, err := ledger.BucketDate(txn.PartitionKey)
	if err != nil {
		return nil, apperr.Internal(err, "failed to derive refund id")
	}
	seq, err := s.allocator.Allocate(ctx, txn.PartitionKey, SortKeyPrefix)
	if err != nil {
		return nil, apperr.Internal(err, "failed to allocate refund id")
	}
	refundID := FormatID(bucket, seq)
	logger = logger.With().Str("refund_id", refundID).Logger()

	refundKey := kv.Key{PartitionKey: txn.PartitionKey, SortKey: SortKey(refundID)}
	createOp, err := s.compiler.CreateOp(refundKey, []fieldaction.Field{
		fieldaction.Set(kv.AttrGlobalID, refundID),
		fieldaction.Set(sequence.AttrIdentifier, seq),
		fieldaction.Set(AttrRefundID, refundID),
		fieldaction.Set(AttrOriginalTransaction, txn.ID),
		fieldaction.Set(AttrUserID, req.UserID.String()),
		fieldaction.Set(AttrAmount, req.Amount.InexactFloat64()),
		fieldaction.Set(AttrSequence, sequenceNo),
		fieldaction.Set(AttrHash, hash),
		fieldaction.Set(AttrStatus, string(StatusInProgress)),
		fieldaction.Set(AttrGatewayCorrelationID, txn.TrnID),
	}, s.schema(CreateSchema()))
	if err != nil {
		return nil, err
	}
	ledgerOp, err := s.compiler.UpdateOp(txn.Key(), []fieldaction.Field{
		fieldaction.Append(ledger.AttrRefundAmounts, []any{map[string]any{refundID: req.Amount.InexactFloat64()}}),
		fieldaction.Set(ledger.AttrPendingStatus, string(pending)),
	}, s.schema(ledger.RefundPendingSchema()), map[string]any{fieldaction.FieldVersion: txn.Version})
	if err != nil {
		return nil, err
	}

	if err := kv.Commit(ctx, s.store, []kv.WriteOp{createOp, ledgerOp}); err != nil {
		if _, atomic := s.store.(kv.Transactor); !atomic {
			// the refund record may have landed without its ledger half
			s.compensate(ctx, refundKey, logger)
		}
		if errors.Is(err, kv.ErrConditionalCheck) {
			logger.Warn().Int64("observed_version", txn.Version).Msg("refund lost optimistic version check")
			return nil, apperr.Conflict(ErrConcurrentWrite, "%v, retry the request", ErrConcurrentWrite)
		}
		return nil, apperr.Internal(err, "failed to record refund")
	}
	logger.Info().Int64("refund_sequence", sequenceNo).Str("pending_status", string(pending)).Msg("refund recorded")

	// hand off to the gateway processor
	msg := queue.RefundMessage{
		RefundTransactionID:      refundID,
		OriginalTransactionID:    txn.ID,
		GatewayCorrelationID:     txn.TrnID,
		RefundAmount:             req.Amount.InexactFloat64(),
		PendingTransactionStatus: string(pending),
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("refund enqueue failed, compensating")
		s.compensate(ctx, refundKey, logger)
		return nil, apperr.Internal(errors.Join(ErrEnqueueFailed, err), "failed to queue refund")
	}
	logger.Info().Msg("refund queued for settlement")

	return &Result{
		Outcome:                  OutcomeAccepted,
		RefundID:                 refundID,
		TransactionID:            txn.ID,
		RefundSequence:           sequenceNo,
		TotalAfterRefund:         total,
		PendingTransactionStatus: pending,
	}, nil
}

func (s *Service) findDuplicate(prior []*Refund, hash string, now time.Time) *Refund {
	for _, rf := range prior {
		if rf.Hash != hash || !rf.Counts() {
			continue
		}
		if now.Sub(rf.CreatedAt()) <= s.cfg.IdempotencyWindow {
			return rf
		}
	}
	return nil
}

func committedTotal(refunds []*Refund) decimal.Decimal {
	total := decimal.Zero
	for _, rf := range refunds {
		if rf.Counts() {
			total = total.Add(rf.Amount)
		}
	}
	return total
}

// compensate marks a refund failed. The ledger keeps its refund entry; failed
// refunds are reconciled by ops (see Requeue).
func (s *Service) compensate(ctx context.Context, key kv.Key, logger zerolog.Logger) {
	op, err := s.compiler.UpdateOp(key, []fieldaction.Field{
		fieldaction.Set(AttrStatus, string(StatusFailed)),
	}, s.schema(StatusSchema()), nil)
	if err == nil {
		err = kv.Apply(ctx, s.store, op)
	}
	if errors.Is(err, kv.ErrConditionalCheck) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark refund failed")
		return
	}
	logger.Warn().Msg("refund marked failed")
}

// Requeue resets a failed refund to "in progress" and publishes it again.
func (s *Service) Requeue(ctx context.Context, refundID string) (*Refund, error) {
	rf, err := s.repo.GetByID(ctx, refundID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("refund %s not found", refundID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load refund")
	}
	if rf.Status != StatusFailed {
		return nil, apperr.Conflict(ErrNotEligible, "refund %s is %q, only failed refunds can be requeued", refundID, rf.Status)
	}

	txn, err := s.ledger.GetByID(ctx, rf.OriginalTransactionID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load transaction")
	}
	siblings, err := s.repo.ListForTransaction(ctx, txn.PartitionKey, txn.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load refunds")
	}
	total := committedTotal(siblings).Add(rf.Amount)
	if total.GreaterThan(txn.Amount) {
		return nil, apperr.Validation("requeue of %s %v", refundID, ErrExceedsAmount)
	}
	pending := ledger.StatusPartialRefund
	if total.Equal(txn.Amount) {
		pending = ledger.StatusRefunded
	}

	op, err := s.compiler.UpdateOp(rf.Key(), []fieldaction.Field{
		fieldaction.Set(AttrStatus, string(StatusInProgress)),
	}, s.schema(StatusSchema()), map[string]any{fieldaction.FieldVersion: rf.Version})
	if err != nil {
		return nil, err
	}
	if err := kv.Apply(ctx, s.store, op); err != nil {
		if errors.Is(err, kv.ErrConditionalCheck) {
			return nil, apperr.Conflict(err, "refund %s changed, retry", refundID)
		}
		return nil, apperr.Internal(err, "failed to reset refund")
	}

	err = s.publisher.Publish(ctx, queue.RefundMessage{
		RefundTransactionID:      rf.ID,
		OriginalTransactionID:    txn.ID,
		GatewayCorrelationID:     txn.TrnID,
		RefundAmount:             rf.Amount.InexactFloat64(),
		PendingTransactionStatus: string(pending),
	})
	if err != nil {
		s.compensate(ctx, rf.Key(), log.With().Str("refund_id", rf.ID).Logger())
		return nil, apperr.Internal(errors.Join(ErrEnqueueFailed, err), "failed to queue refund")
	}
	log.Info().Str("refund_id", rf.ID).Str("transaction_id", txn.ID).Msg("failed refund requeued")
	return s.repo.Get(ctx, rf.Key())
}

// ListByStatus returns the refunds in a ledger bucket with the given status,
// or all of them when status is empty.
func (s *Service) ListByStatus(ctx context.Context, partitionKey string, status Status) ([]*Refund, error) {
	all, err := s.repo.ListByPartition(ctx, partitionKey)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list refunds")
	}
	if status == "" {
		return all, nil
	}
	out := make([]*Refund, 0, len(all))
	for _, rf := range all {
		if rf.Status == status {
			out = append(out, rf)
		}
	}
	return out, nil
}
