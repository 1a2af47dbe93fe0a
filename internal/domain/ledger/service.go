package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/pkg/apperr"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

type Service struct {
	repo          *Repository
	allocator     *sequence.Allocator
	compiler      *fieldaction.Compiler
	developerMode bool
}

func NewService(repo *Repository, allocator *sequence.Allocator, compiler *fieldaction.Compiler, developerMode bool) *Service {
	return &Service{repo: repo, allocator: allocator, compiler: compiler, developerMode: developerMode}
}

func (s *Service) schema(base fieldaction.Schema) fieldaction.Schema {
	base.DeveloperMode = s.developerMode
	return base
}

// CreateInput describes a new payment.
type CreateInput struct {
	UserID   uuid.UUID
	Amount   decimal.Decimal
	Currency string
	TrnID    string
}

// CreateTransaction mints TX<yyyymmdd>-<seq> in today's bucket and writes the
// record in status "in progress".
func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (*Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("%v", ErrInvalidAmount)
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, apperr.Validation("%v, got %s", ErrAmountPrecision, in.Amount.String())
	}
	if in.UserID == uuid.Nil {
		return nil, apperr.Validation("userId is required")
	}

	now := s.compiler.Now()
	pk := PartitionKey(now)
	seq, err := s.allocator.Allocate(ctx, pk, IDPrefix)
	if err != nil {
		return nil, apperr.Internal(err, "failed to allocate transaction id")
	}
	id := FormatID(now, seq)

	fields := []fieldaction.Field{
		fieldaction.Set(kv.AttrGlobalID, id),
		fieldaction.Set(sequence.AttrIdentifier, seq),
		fieldaction.Set(AttrUserID, in.UserID.String()),
		fieldaction.Set(AttrAmount, in.Amount.InexactFloat64()),
		fieldaction.Set(AttrCurrency, in.Currency),
		fieldaction.Set(AttrStatus, string(StatusInProgress)),
		fieldaction.Set(AttrTransactionDate, now.Format("2006-01-02")),
		fieldaction.Set(AttrRefundAmounts, []any{}),
	}
	if in.TrnID != "" {
		fields = append(fields, fieldaction.Set(AttrTrnID, in.TrnID))
	}

	key := kv.Key{PartitionKey: pk, SortKey: id}
	op, err := s.compiler.CreateOp(key, fields, s.schema(CreateSchema()))
	if err != nil {
		return nil, err
	}
	if err := kv.Apply(ctx, s.repo.Store(), op); err != nil {
		if errors.Is(err, kv.ErrConditionalCheck) {
			return nil, apperr.Conflict(err, "transaction %s already exists", id)
		}
		return nil, apperr.Internal(err, "failed to create transaction")
	}

	log.Info().
		Str("transaction_id", id).
		Str("user_id", in.UserID.String()).
		Str("amount", in.Amount.StringFixed(2)).
		Msg("transaction created")

	return s.repo.Get(ctx, key)
}

// GetByID loads a transaction by its public id.
func (s *Service) GetByID(ctx context.Context, id string) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("transaction %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load transaction")
	}
	return t, nil
}

// MarkPaid records a captured payment: "in progress" -> "paid", storing the
// gateway reference when given.
func (s *Service) MarkPaid(ctx context.Context, id, trnID string) (*Transaction, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusPaid {
		return t, nil
	}
	if t.Status != StatusInProgress {
		return nil, apperr.Conflict(ErrInvalidStatus, "transaction %s is %q", id, t.Status)
	}

	fields := []fieldaction.Field{fieldaction.Set(AttrStatus, string(StatusPaid))}
	if trnID != "" {
		fields = append(fields, fieldaction.Set(AttrTrnID, trnID))
	}
	op, err := s.compiler.UpdateOp(t.Key(), fields, s.schema(CaptureSchema()), map[string]any{fieldaction.FieldVersion: t.Version})
	if err != nil {
		return nil, err
	}
	if err := s.repo.Apply(ctx, op); err != nil {
		if errors.Is(err, ErrVersionChanged) {
			return nil, apperr.Conflict(err, "transaction %s changed, retry", id)
		}
		return nil, apperr.Internal(err, "failed to mark transaction paid")
	}

	log.Info().Str("transaction_id", id).Str("trn_id", trnID).Msg("transaction marked paid")
	return s.repo.Get(ctx, t.Key())
}

// Today is the bucket for transactions created now.
func (s *Service) Today() string {
	return PartitionKey(s.compiler.Now())
}
