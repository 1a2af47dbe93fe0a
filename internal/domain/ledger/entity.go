package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

type Status string

const (
	StatusInProgress    Status = "in progress"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
	StatusPartialRefund Status = "partial refund"
	StatusUnknown       Status = "unknown"
	StatusFailed        Status = "failed"
)

// Record attributes.
const (
	AttrUserID          = "userId"
	AttrAmount          = "amount"
	AttrCurrency        = "currency"
	AttrStatus          = "transactionStatus"
	AttrPendingStatus   = "pendingTransactionStatus"
	AttrRefundAmounts   = "refundAmounts"
	AttrTrnID           = "trnId"
	AttrTransactionDate = "transactionDate"
)

const partitionPrefix = "transactions::"

// IDPrefix starts every ledger sort key and scopes the ledger sequence.
const IDPrefix = "TX"

// PartitionKey is the date bucket a transaction created at t lives in.
func PartitionKey(t time.Time) string {
	return partitionPrefix + t.UTC().Format("2006-01-02")
}

// BucketDate is the day a partition key buckets.
func BucketDate(partitionKey string) (time.Time, error) {
	day, ok := strings.CutPrefix(partitionKey, partitionPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("partition key %q is not a transaction bucket", partitionKey)
	}
	return time.Parse("2006-01-02", day)
}

// FormatID renders TX<yyyymmdd>-<seq:06d>.
func FormatID(t time.Time, seq int64) string {
	return fmt.Sprintf("%s%s-%06d", IDPrefix, t.UTC().Format("20060102"), seq)
}

// RefundEntry is one element of refundAmounts, stored as {refundId: amount}.
type RefundEntry struct {
	RefundID string
	Amount   decimal.Decimal
}

type Transaction struct {
	PartitionKey  string          `json:"partitionKey"`
	ID            string          `json:"id"`
	Identifier    int64           `json:"identifier"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"transactionStatus"`
	PendingStatus Status          `json:"pendingTransactionStatus,omitempty"`
	RefundAmounts []RefundEntry   `json:"refundAmounts,omitempty"`
	TrnID         string          `json:"trnId,omitempty"`
	Version       int64           `json:"version"`
	CreationDate  string          `json:"creationDate"`
	LastUpdated   string          `json:"lastUpdated"`
}

// Key addresses the transaction's record.
func (t *Transaction) Key() kv.Key {
	return kv.Key{PartitionKey: t.PartitionKey, SortKey: t.ID}
}

// RefundedTotal sums refundAmounts.
func (t *Transaction) RefundedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t.RefundAmounts {
		total = total.Add(e.Amount)
	}
	return total
}

func fromItem(it kv.Item) *Transaction {
	t := &Transaction{
		PartitionKey:  it.String(kv.AttrPartitionKey),
		ID:            it.String(kv.AttrSortKey),
		Identifier:    it.Int64(sequence.AttrIdentifier),
		UserID:        it.String(AttrUserID),
		Amount:        decimal.NewFromFloat(it.Number(AttrAmount)),
		Currency:      it.String(AttrCurrency),
		Status:        Status(it.String(AttrStatus)),
		PendingStatus: Status(it.String(AttrPendingStatus)),
		TrnID:         it.String(AttrTrnID),
		Version:       it.Int64(fieldaction.FieldVersion),
		CreationDate:  it.String(fieldaction.FieldCreationDate),
		LastUpdated:   it.String(fieldaction.FieldLastUpdated),
	}
	for _, raw := range it.List(AttrRefundAmounts) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for id, amount := range entry {
			f, _ := amount.(float64)
			t.RefundAmounts = append(t.RefundAmounts, RefundEntry{RefundID: id, Amount: decimal.NewFromFloat(f)})
		}
	}
	return t
}
