package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vendaflow/vendaflow/internal/platform/httpx"
)

// Handler serves cash register endpoints.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/registers", h.openRegister)
	r.Post("/registers/close", h.closeRegister)
	r.Get("/registers/current", h.currentRegister)
}

type openRegisterRequest struct {
	OpeningBalance string `json:"opening_balance" validate:"required"`
}

func (h *Handler) openRegister(w http.ResponseWriter, r *http.Request) {
	var req openRegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := decimal.NewFromString(req.OpeningBalance)
	if err != nil || balance.IsNegative() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "opening_balance must be a non-negative decimal")
		return
	}
	register, err := h.store.OpenRegister(r.Context(), balance)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, registerResponse(register))
}

func (h *Handler) closeRegister(w http.ResponseWriter, r *http.Request) {
	register, err := h.store.CloseRegister(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, registerResponse(register))
}

func (h *Handler) currentRegister(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Current(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	movements := make([]map[string]any, 0, len(summary.Movements))
	for _, m := range summary.Movements {
		item := map[string]any{
			"id":              m.ID.String(),
			"direction":       m.Direction,
			"amount":          m.Amount.StringFixed(2),
			"origin":          m.Origin,
			"document_number": m.DocumentNumber,
			"description":     m.Description,
			"created_at":      m.CreatedAt.Format(time.RFC3339),
		}
		if m.SequenceNumber != nil {
			item["sequence_number"] = *m.SequenceNumber
		}
		movements = append(movements, item)
	}
	resp := registerResponse(summary.Register)
	resp["balance"] = summary.Balance.StringFixed(2)
	resp["movements"] = movements
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoOpenRegister):
		httpx.Problem(w, http.StatusNotFound, "No Open Register", err.Error())
	case errors.Is(err, ErrRegisterAlreadyOpen):
		httpx.Problem(w, http.StatusConflict, "Register Already Open", err.Error())
	case errors.Is(err, ErrUnavailable):
		httpx.RetryableProblem(w, http.StatusServiceUnavailable, "Ledger Unavailable", err.Error())
	default:
		h.logger.Error("ledger handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func registerResponse(register Register) map[string]any {
	resp := map[string]any{
		"id":              register.ID,
		"opened_at":       register.OpenedAt.Format(time.RFC3339),
		"opening_balance": register.OpeningBalance.StringFixed(2),
		"open":            register.Open(),
	}
	if register.ClosedAt != nil {
		resp["closed_at"] = register.ClosedAt.Format(time.RFC3339)
	}
	return resp
}
