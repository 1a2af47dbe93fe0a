package ledger

import (
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

var statusValues = []string{
	string(StatusInProgress), string(StatusPaid), string(StatusCancelled), string(StatusRefunded),
	string(StatusPartialRefund), string(StatusUnknown), string(StatusFailed),
}

var setOnly = []fieldaction.Action{fieldaction.ActionSet}

// CreateSchema guards new ledger records.
func CreateSchema() fieldaction.Schema {
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			kv.AttrGlobalID:         {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("transaction_id")}},
			sequence.AttrIdentifier: {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.AtLeast(1)}},
			AttrUserID:              {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("uuid")}},
			AttrAmount:              {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeNumber), fieldaction.AtLeast(0.01)}},
			AttrCurrency:            {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("currency")}},
			AttrStatus:              {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.OneOf(statusValues...)}},
			AttrTransactionDate:     {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("datetime=2006-01-02")}},
			AttrTrnID:               {Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeString)}},
			AttrRefundAmounts:       {Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeList)}},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
		FailOnError:   true,
	}
}

// CaptureSchema covers reconciling a captured payment.
func CaptureSchema() fieldaction.Schema {
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			AttrStatus: {IsMandatory: true, Actions: setOnly, Rules: []fieldaction.Rule{fieldaction.OneOf(string(StatusPaid), string(StatusCancelled))}},
			AttrTrnID:  {Actions: setOnly, Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeString)}},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
	}
}

// RefundPendingSchema is the ledger half of a refund request: the refund is
// appended and the status it will settle to is recorded.
func RefundPendingSchema() fieldaction.Schema {
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			AttrRefundAmounts: {
				IsMandatory: true,
				Actions:     []fieldaction.Action{fieldaction.ActionAppend},
				Rules:       []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeList)},
			},
			AttrPendingStatus: {
				IsMandatory: true,
				Actions:     setOnly,
				Rules:       []fieldaction.Rule{fieldaction.OneOf(string(StatusRefunded), string(StatusPartialRefund))},
			},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
		FailOnError:   true,
	}
}

// SettlementSchema moves the ledger to the status a settled refund implies.
func SettlementSchema() fieldaction.Schema {
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			AttrStatus: {
				IsMandatory: true,
				Actions:     setOnly,
				Rules:       []fieldaction.Rule{fieldaction.OneOf(string(StatusRefunded), string(StatusPartialRefund))},
			},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
		FailOnError:   true,
	}
}
