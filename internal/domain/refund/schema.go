package refund

import (
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

var statusValues = []string{string(StatusInProgress), string(StatusRefunded), string(StatusUnknown), string(StatusFailed)}

func CreateSchema() fieldaction.Schema {
	str := []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeString)}
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			kv.AttrGlobalID:          {IsMandatory: true, Rules: str},
			sequence.AttrIdentifier:  {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.AtLeast(1)}},
			AttrRefundID:             {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Matches(`^RF\d{8}-\d{6}$`)}},
			AttrOriginalTransaction:  {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("transaction_id")}},
			AttrUserID:               {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Format("uuid")}},
			AttrAmount:               {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeNumber), fieldaction.AtLeast(0.01)}},
			AttrSequence:             {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.AtLeast(1)}},
			AttrHash:                 {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.Matches(`^[0-9a-f]{64}$`)}},
			AttrStatus:               {IsMandatory: true, Rules: []fieldaction.Rule{fieldaction.OneOf(string(StatusInProgress))}},
			AttrGatewayCorrelationID: {Rules: str},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
		FailOnError:   true,
	}
}

// StatusSchema covers every later change to a refund record.
func StatusSchema() fieldaction.Schema {
	set := []fieldaction.Action{fieldaction.ActionSet}
	return fieldaction.Schema{
		Fields: map[string]fieldaction.FieldSpec{
			AttrStatus:         {IsMandatory: true, Actions: set, Rules: []fieldaction.Rule{fieldaction.OneOf(statusValues...)}},
			AttrTrnID:          {Actions: set, Rules: []fieldaction.Rule{fieldaction.IsType(fieldaction.TypeString)}},
			AttrGatewayMessage: {Actions: []fieldaction.Action{fieldaction.ActionSet, fieldaction.ActionRemove}},
		},
		AutoTimestamp: true,
		AutoVersion:   true,
		FailOnError:   true,
	}
}
