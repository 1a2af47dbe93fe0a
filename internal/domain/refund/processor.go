package refund

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/gateway"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
	"github.com/mwork/booking-ledger/internal/pkg/storage"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	settleAttempts        = 3
)

// Gateway settles refunds with the payment provider.
type Gateway interface {
	Refund(ctx context.Context, r gateway.RefundRequest) (*gateway.RefundResult, error)
}

type ProcessorConfig struct {
	GatewayTimeout time.Duration
	DeveloperMode  bool
}

// Processor settles queued refunds against the gateway and reconciles the
// ledger. Handle returning an error means the job must be redelivered.
type Processor struct {
	store    kv.Store
	ledger   *ledger.Repository
	repo     *Repository
	compiler *fieldaction.Compiler
	gateway  Gateway
	archive  storage.Archive
	cfg      ProcessorConfig
}

// NewProcessor wires a processor. archive may be nil.
func NewProcessor(store kv.Store, ledgerRepo *ledger.Repository, repo *Repository, compiler *fieldaction.Compiler, gw Gateway, archive storage.Archive, cfg ProcessorConfig) *Processor {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	return &Processor{
		store:    store,
		ledger:   ledgerRepo,
		repo:     repo,
		compiler: compiler,
		gateway:  gw,
		archive:  archive,
		cfg:      cfg,
	}
}

func (p *Processor) schema(base fieldaction.Schema) fieldaction.Schema {
	base.DeveloperMode = p.cfg.DeveloperMode
	return base
}

func (p *Processor) Handle(ctx context.Context, msg queue.RefundMessage) error {
	logger := log.With().
		Str("refund_id", msg.RefundTransactionID).
		Str("transaction_id", msg.OriginalTransactionID).
		Logger()

	txn, err := p.ledger.GetByID(ctx, msg.OriginalTransactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", msg.OriginalTransactionID, err)
	}
	rf, err := p.repo.Get(ctx, kv.Key{PartitionKey: txn.PartitionKey, SortKey: SortKey(msg.RefundTransactionID)})
	if err != nil {
		return fmt.Errorf("load refund %s: %w", msg.RefundTransactionID, err)
	}

	switch rf.Status {
	case StatusRefunded:
		logger.Info().Msg("refund already settled, dropping redelivery")
		settlementsTotal.WithLabelValues("duplicate").Inc()
		return nil
	case StatusFailed:
		logger.Warn().Msg("refund was compensated to failed, dropping job")
		settlementsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	result, err := p.gateway.Refund(callCtx, gateway.RefundRequest{
		RefundID:      rf.ID,
		TransactionID: txn.ID,
		CorrelationID: msg.GatewayCorrelationID,
		Amount:        decimal.NewFromFloat(msg.RefundAmount),
	})
	gatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Int("attempt_timeout_ms", int(p.cfg.GatewayTimeout.Milliseconds())).Msg("gateway call failed")
		settlementsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("gateway refund %s: %w", rf.ID, err)
	}

	if !result.Approved {
		fields := []fieldaction.Field{fieldaction.Set(AttrStatus, string(StatusUnknown))}
		if result.Message != "" {
			fields = append(fields, fieldaction.Set(AttrGatewayMessage, result.Message))
		}
		op, err := p.compiler.UpdateOp(rf.Key(), fields, p.schema(StatusSchema()), nil)
		if err != nil {
			return err
		}
		if err := kv.Apply(ctx, p.store, op); err != nil {
			return fmt.Errorf("mark refund %s unknown: %w", rf.ID, err)
		}
		logger.Warn().Str("gateway_message", result.Message).Msg("gateway declined refund")
		settlementsTotal.WithLabelValues("declined").Inc()
		return fmt.Errorf("refund %s: %w", rf.ID, ErrDeclined)
	}

	if err := p.settle(ctx, txn, rf, result, ledger.Status(msg.PendingTransactionStatus)); err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return err
	}
	settlementsTotal.WithLabelValues("approved").Inc()
	logger.Info().Str("trn_id", result.TrnID).Str("ledger_status", msg.PendingTransactionStatus).Msg("refund settled")

	p.archiveResult(ctx, rf, result)
	return nil
}

// settle records an approved refund. The gateway has already paid out, so a
// lost version check re-reads both records and writes again instead of
// returning the job to the queue, which would call the gateway a second time.
func (p *Processor) settle(ctx context.Context, txn *ledger.Transaction, rf *Refund, result *gateway.RefundResult, pending ledger.Status) error {
	for attempt := 1; ; attempt++ {
		err := p.commitSettlement(ctx, txn, rf, result, pending)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConditionalCheck) {
			return fmt.Errorf("settle refund %s: %w", rf.ID, err)
		}
		if attempt == settleAttempts {
			return fmt.Errorf("settle refund %s after %d attempts: %w", rf.ID, attempt, ErrConcurrentWrite)
		}

		log.Debug().Str("refund_id", rf.ID).Int("attempt", attempt).Msg("settlement lost version check, re-reading")
		freshTxn, err := p.ledger.Get(ctx, txn.Key())
		if err != nil {
			return fmt.Errorf("reload transaction %s: %w", txn.ID, err)
		}
		freshRefund, err := p.repo.Get(ctx, rf.Key())
		if err != nil {
			return fmt.Errorf("reload refund %s: %w", rf.ID, err)
		}
		if freshRefund.Status == StatusRefunded {
			return nil
		}
		txn, rf = freshTxn, freshRefund
	}
}

// commitSettlement writes the ledger status first so a non-atomic store never
// records a refunded refund whose ledger was left behind.
func (p *Processor) commitSettlement(ctx context.Context, txn *ledger.Transaction, rf *Refund, result *gateway.RefundResult, pending ledger.Status) error {
	ops := make([]kv.WriteOp, 0, 2)
	if txn.Status != ledger.StatusRefunded {
		ledgerOp, err := p.compiler.UpdateOp(txn.Key(), []fieldaction.Field{
			fieldaction.Set(ledger.AttrStatus, string(pending)),
		}, p.schema(ledger.SettlementSchema()), map[string]any{fieldaction.FieldVersion: txn.Version})
		if err != nil {
			return err
		}
		ops = append(ops, ledgerOp)
	}

	fields := []fieldaction.Field{fieldaction.Set(AttrStatus, string(StatusRefunded))}
	if result.TrnID != "" {
		fields = append(fields, fieldaction.Set(AttrTrnID, result.TrnID))
	}
	refundOp, err := p.compiler.UpdateOp(rf.Key(), fields, p.schema(StatusSchema()), map[string]any{fieldaction.FieldVersion: rf.Version})
	if err != nil {
		return err
	}
	ops = append(ops, refundOp)

	return kv.Commit(ctx, p.store, ops)
}

func (p *Processor) archiveResult(ctx context.Context, rf *Refund, result *gateway.RefundResult) {
	if p.archive == nil || len(result.Raw) == 0 {
		return
	}
	key := storage.SettlementKey(p.compiler.Now(), rf.ID)
	if err := p.archive.Put(ctx, key, bytes.NewReader(result.Raw), "application/json"); err != nil {
		log.Warn().Err(err).Str("refund_id", rf.ID).Str("key", key).Msg("failed to archive gateway response")
	}
}
