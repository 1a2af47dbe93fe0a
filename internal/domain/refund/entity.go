package refund

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

type Status string

const (
	StatusInProgress Status = "in progress"
	StatusRefunded   Status = "refunded"
	StatusUnknown    Status = "unknown"
	StatusFailed     Status = "failed"
)

// Outcome is how a refund request ended without error.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeAlreadyRefunded  Outcome = "already_refunded"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Record attributes.
const (
	AttrRefundID             = "refundTransactionId"
	AttrOriginalTransaction  = "originalTransactionId"
	AttrUserID               = "userId"
	AttrAmount               = "amount"
	AttrSequence             = "refundSequence"
	AttrHash                 = "refundHash"
	AttrStatus               = "transactionStatus"
	AttrGatewayCorrelationID = "gatewayCorrelationId"
	AttrTrnID                = "trnId"
	AttrGatewayMessage       = "gatewayMessage"
)

// SortKeyPrefix scopes refund records inside a ledger partition.
const SortKeyPrefix = "refund::"

// SortKey is the refund record's sort key.
func SortKey(refundID string) string {
	return SortKeyPrefix + refundID
}

// FormatID renders RF<yyyymmdd>-<seq:06d>. bucket is the day of the ledger
// partition the sequence was allocated in, never the day of the refund, so ids
// stay unique across partitions.
func FormatID(bucket time.Time, seq int64) string {
	return fmt.Sprintf("RF%s-%06d", bucket.UTC().Format("20060102"), seq)
}

type Refund struct {
	PartitionKey          string          `json:"-"`
	ID                    string          `json:"refundTransactionId"`
	Identifier            int64           `json:"-"`
	OriginalTransactionID string          `json:"originalTransactionId"`
	UserID                string          `json:"userId"`
	Amount                decimal.Decimal `json:"amount"`
	Sequence              int64           `json:"refundSequence"`
	Hash                  string          `json:"refundHash"`
	Status                Status          `json:"transactionStatus"`
	GatewayCorrelationID  string          `json:"gatewayCorrelationId,omitempty"`
	TrnID                 string          `json:"trnId,omitempty"`
	CreationDate          string          `json:"creationDate"`
	LastUpdated           string          `json:"lastUpdated"`
	Version               int64           `json:"version"`
}

func (r *Refund) Key() kv.Key {
	return kv.Key{PartitionKey: r.PartitionKey, SortKey: SortKey(r.ID)}
}

// CreatedAt parses CreationDate; the zero time when unparseable.
func (r *Refund) CreatedAt() time.Time {
	t, err := time.Parse(fieldaction.TimeLayout, r.CreationDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Counts reports whether the refund still holds part of the transaction amount.
func (r *Refund) Counts() bool {
	return r.Status != StatusFailed
}

func fromItem(it kv.Item) *Refund {
	return &Refund{
		PartitionKey:          it.String(kv.AttrPartitionKey),
		ID:                    it.String(AttrRefundID),
		Identifier:            it.Int64(sequence.AttrIdentifier),
		OriginalTransactionID: it.String(AttrOriginalTransaction),
		UserID:                it.String(AttrUserID),
		Amount:                decimal.NewFromFloat(it.Number(AttrAmount)),
		Sequence:              it.Int64(AttrSequence),
		Hash:                  it.String(AttrHash),
		Status:                Status(it.String(AttrStatus)),
		GatewayCorrelationID:  it.String(AttrGatewayCorrelationID),
		TrnID:                 it.String(AttrTrnID),
		CreationDate:          it.String(fieldaction.FieldCreationDate),
		LastUpdated:           it.String(fieldaction.FieldLastUpdated),
		Version:               it.Int64(fieldaction.FieldVersion),
	}
}

// Request is a caller asking for money back on a transaction.
type Request struct {
	UserID        uuid.UUID
	TransactionID string
	Amount        decimal.Decimal
}

// Result is what RequestRefund reports for a request it did not reject.
type Result struct {
	Outcome                  Outcome         `json:"outcome"`
	RefundID                 string          `json:"refundTransactionId,omitempty"`
	TransactionID            string          `json:"originalTransactionId"`
	RefundSequence           int64           `json:"refundSequence,omitempty"`
	TotalAfterRefund         decimal.Decimal `json:"totalAfterRefund"`
	PendingTransactionStatus ledger.Status   `json:"pendingTransactionStatus,omitempty"`
}
