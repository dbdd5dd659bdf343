package finance

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vendaflow/vendaflow/internal/ledger"
	"github.com/vendaflow/vendaflow/internal/platform/httpx"
	"github.com/vendaflow/vendaflow/internal/receipts"
	"github.com/vendaflow/vendaflow/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler manages the finance endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	recorder *Recorder
	receipts receipts.Store
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, recorder *Recorder, store receipts.Store) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		recorder: recorder,
		receipts: store,
		validate: validator.New(),
	}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts", h.listAccounts)
	r.Get("/accounts/{doc}", h.getAccount)
	r.Post("/accounts/{doc}/payments", h.recordAccountPayment)
	r.Post("/accounts/{doc}/installments/{seq}/payments", h.recordInstallmentPayment)
	r.Put("/accounts/{doc}/installments/{seq}", h.updateInstallment)
	r.Post("/schedule/preview", h.previewSchedule)
}

type createAccountRequest struct {
	DocumentNumber   string `json:"document_number"`
	Kind             string `json:"kind" validate:"required,oneof=PAYABLE RECEIVABLE"`
	CreationType     string `json:"creation_type" validate:"required,oneof=SINGLE INSTALLMENT_PLAN REPLICATION"`
	Description      string `json:"description" validate:"required"`
	Category         string `json:"category"`
	CounterpartyCode string `json:"counterparty_code"`
	TotalValue       string `json:"total_value" validate:"required"`
	StartDate        string `json:"start_date" validate:"required"`
	Count            int    `json:"count" validate:"gte=0"`
	Notes            string `json:"notes"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total, err := decimal.NewFromString(req.TotalValue)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "total_value must be a decimal")
		return
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		DocumentNumber:   req.DocumentNumber,
		Kind:             AccountKind(req.Kind),
		CreationType:     CreationType(req.CreationType),
		Description:      req.Description,
		Category:         req.Category,
		CounterpartyCode: req.CounterpartyCode,
		TotalValue:       total,
		StartDate:        startDate,
		Count:            req.Count,
		Notes:            req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, accountResponse(account, time.Now()))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "doc"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountResponse(account, time.Now()))
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	accounts, pagination, err := h.service.ListAccounts(r.Context(), ListAccountsRequest{
		Kind:             AccountKind(q.Get("kind")),
		CounterpartyCode: q.Get("counterparty"),
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now()
	items := make([]map[string]any, 0, len(accounts))
	for idx := range accounts {
		items = append(items, accountResponse(&accounts[idx], now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"accounts": items,
		"pagination": map[string]any{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
			"has_next":    pagination.HasNext(),
		},
	})
}

type previewScheduleRequest struct {
	TotalValue string `json:"total_value" validate:"required"`
	StartDate  string `json:"start_date" validate:"required"`
	Count      int    `json:"count" validate:"required,gte=1"`
	Mode       string `json:"mode" validate:"required,oneof=DIVIDE REPEAT"`
}

func (h *Handler) previewSchedule(w http.ResponseWriter, r *http.Request) {
	var req previewScheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total, err := decimal.NewFromString(req.TotalValue)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "total_value must be a decimal")
		return
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	installments, err := h.service.PreviewSchedule(total, startDate, req.Count, ScheduleMode(req.Mode))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"installments": installmentResponses(installments, time.Now()),
	})
}

type paymentRequest struct {
	Amount         string `json:"amount" validate:"required"`
	PaidOn         string `json:"paid_on"`
	Method         string `json:"method" validate:"required"`
	Notes          string `json:"notes"`
	Receipt        string `json:"receipt"`
	RequireReceipt bool   `json:"require_receipt"`
}

func (h *Handler) recordAccountPayment(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, nil)
}

func (h *Handler) recordInstallmentPayment(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sequence number")
		return
	}
	h.recordPayment(w, r, &seq)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request, seq *int) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal")
		return
	}
	var paidOn time.Time
	if req.PaidOn != "" {
		paidOn, err = time.Parse(dateLayout, req.PaidOn)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "paid_on must be YYYY-MM-DD")
			return
		}
	}

	receiptRef, err := h.storeReceipt(r, req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	result, err := h.recorder.RecordPayment(r.Context(), RecordPaymentInput{
		DocumentNumber: chi.URLParam(r, "doc"),
		SequenceNumber: seq,
		Amount:         amount,
		PaidOn:         paidOn,
		Method:         req.Method,
		Notes:          req.Notes,
		ReceiptRef:     receiptRef,
		ClientKey:      r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"movement_id": result.MovementID.String(),
		"account":     accountResponse(result.Account, time.Now()),
	})
}

// storeReceipt stores an inline receipt payload, if any. A storage failure
// only fails the payment when the caller requires a receipt.
func (h *Handler) storeReceipt(r *http.Request, req paymentRequest) (string, error) {
	if req.Receipt == "" {
		if req.RequireReceipt {
			return "", ErrReceiptRequired
		}
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(req.Receipt)
	if err != nil {
		if req.RequireReceipt {
			return "", ErrReceiptRequired
		}
		return "", nil
	}
	ref, err := h.receipts.Save(r.Context(), data)
	if err != nil {
		h.logger.Warn("receipt store failed", slog.Any("error", err))
		if req.RequireReceipt {
			return "", ErrReceiptRequired
		}
		return "", nil
	}
	return ref, nil
}

type updateInstallmentRequest struct {
	Value   string `json:"value" validate:"required"`
	DueDate string `json:"due_date" validate:"required"`
}

func (h *Handler) updateInstallment(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sequence number")
		return
	}
	var req updateInstallmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "value must be a decimal")
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}
	account, err := h.service.UpdateInstallmentTerms(r.Context(), chi.URLParam(r, "doc"), seq, value, dueDate)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountResponse(account, time.Now()))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCount),
		errors.Is(err, ErrAccountLevelTarget):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrInstallmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAmountExceedsBalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Amount Exceeds Balance", err.Error())
	case errors.Is(err, ErrAlreadySettled):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Already Settled", err.Error())
	case errors.Is(err, ErrReceiptRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Receipt Required", err.Error())
	case errors.Is(err, ErrInstallmentLocked):
		httpx.Problem(w, http.StatusConflict, "Installment Locked", err.Error())
	case errors.Is(err, ErrDuplicateDocument), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrConcurrentModification):
		httpx.RetryableProblem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, ledger.ErrNoOpenRegister):
		httpx.RetryableProblem(w, http.StatusConflict, "No Open Register",
			"open a cash register before recording payments")
	case errors.Is(err, ErrLedgerPostFailed):
		httpx.RetryableProblem(w, http.StatusBadGateway, "Ledger Post Failed", err.Error())
	default:
		h.logger.Error("finance handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func accountResponse(a *Account, now time.Time) map[string]any {
	resp := map[string]any{
		"document_number":   a.DocumentNumber,
		"kind":              a.Kind,
		"creation_type":     a.CreationType,
		"description":       a.Description,
		"category":          a.Category,
		"counterparty_code": a.CounterpartyCode,
		"total_value":       a.TotalValue.StringFixed(2),
		"start_date":        a.StartDate.Format(dateLayout),
		"notes":             a.Notes,
		"version":           a.Version,
		"settled":           a.Settled(),
	}
	if a.CreationType == CreationSingle {
		status := a.Status
		if status != StatusPaid && a.StartDate.Before(truncateToDay(now)) {
			status = StatusOverdue
		}
		resp["status"] = status
		resp["remaining"] = a.Remaining().StringFixed(2)
		if a.Payment != nil {
			resp["payment"] = paymentResponse(a.Payment)
		}
	} else {
		resp["installments"] = installmentResponses(a.Installments, now)
	}
	return resp
}

func installmentResponses(installments []Installment, now time.Time) []map[string]any {
	out := make([]map[string]any, 0, len(installments))
	for _, inst := range installments {
		item := map[string]any{
			"sequence_number": inst.SequenceNumber,
			"value":           inst.Value.StringFixed(2),
			"due_date":        inst.DueDate.Format(dateLayout),
			"status":          inst.EffectiveStatus(now),
			"remaining":       inst.Remaining().StringFixed(2),
		}
		if inst.Payment != nil {
			item["payment"] = paymentResponse(inst.Payment)
		}
		out = append(out, item)
	}
	return out
}

func paymentResponse(p *Payment) map[string]any {
	return map[string]any{
		"amount_paid": p.AmountPaid.StringFixed(2),
		"paid_on":     p.PaidOn.Format(dateLayout),
		"method":      p.Method,
		"notes":       p.Notes,
		"receipt_ref": p.ReceiptRef,
	}
}
