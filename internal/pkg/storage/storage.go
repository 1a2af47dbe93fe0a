// Package storage archives gateway settlement responses so ops can reconcile
// refunds against the gateway's own records.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Archive stores immutable objects by key.
type Archive interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// SettlementKey is where a refund's gateway response is archived:
// refunds/<yyyy-mm-dd>/<refundId>.json
func SettlementKey(at time.Time, refundID string) string {
	return fmt.Sprintf("refunds/%s/%s.json", at.UTC().Format("2006-01-02"), refundID)
}
