package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mwork/booking-ledger/internal/pkg/logger"
	"github.com/mwork/booking-ledger/internal/pkg/response"
)

// Recover turns a panic in a handler into a 500 envelope. The context logger
// already carries the request id when RequestID ran first.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context()).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Msg("Panic recovered")

			response.InternalError(w)
		}()

		next.ServeHTTP(w, r)
	})
}
