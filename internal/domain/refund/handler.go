package refund

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/middleware"
	"github.com/mwork/booking-ledger/internal/pkg/errorhandler"
	"github.com/mwork/booking-ledger/internal/pkg/response"
	"github.com/mwork/booking-ledger/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Request handles POST /transactions/{id}/refunds.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	txnID := chi.URLParam(r, "id")
	if err := validator.ValidateVar(txnID, "transaction_id"); err != nil {
		response.NotFound(w, "transaction not found")
		return
	}

	var req refundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	res, err := h.svc.RequestRefund(r.Context(), Request{
		UserID:        userID,
		TransactionID: txnID,
		Amount:        req.Amount,
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	if res.Outcome == OutcomeAccepted {
		response.JSON(w, http.StatusAccepted, res)
		return
	}
	response.OK(w, res)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Request)
	return r
}
