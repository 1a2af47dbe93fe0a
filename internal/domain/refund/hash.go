package refund

import (
	"encoding/hex"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Hash is the idempotency key of a refund request. Amounts are normalised to
// two decimals so 40, 40.0 and 40.00 collide; RequestRefund rejects finer
// amounts before hashing, so the rounding never merges distinct amounts.
func Hash(userID, transactionID string, amount decimal.Decimal) string {
	sum := blake2b.Sum256([]byte(userID + "|" + transactionID + "|" + amount.StringFixed(2)))
	return hex.EncodeToString(sum[:])
}
