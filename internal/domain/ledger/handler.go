package ledger

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

type createRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,currency"`
	TrnID    string          `json:"trnId" validate:"omitempty,max=128"`
}

type captureRequest struct {
	TrnID string `json:"trnId" validate:"omitempty,max=128"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create opens a transaction owned by the caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req createRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	txn, err := h.svc.CreateTransaction(r.Context(), CreateInput{
		UserID:   userID,
		Amount:   req.Amount,
		Currency: req.Currency,
		TrnID:    req.TrnID,
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, txn)
}

// Capture marks a transaction paid. Ops only.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validator.ValidateVar(id, "transaction_id"); err != nil {
		response.NotFound(w, "transaction not found")
		return
	}

	var req captureRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	txn, err := h.svc.MarkPaid(r.Context(), id, req.TrnID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, txn)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.With(middleware.RequireOps()).Post("/{id}/capture", h.Capture)
	return r
}
