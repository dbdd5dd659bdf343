package receipts

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendaflow/vendaflow/internal/platform/httpx"
)

// Handler serves receipt upload and download endpoints.
type Handler struct {
	logger   *slog.Logger
	store    Store
	maxBytes int64
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store Store, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	return &Handler{logger: logger, store: store, maxBytes: maxBytes}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.upload)
	r.Get("/{ref}", h.download)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	// One extra byte so an at-cap payload is distinguishable from an over-cap one.
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBytes+1))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	ref, err := h.store.Save(r.Context(), data)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"receipt_ref": ref})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	data, mime, err := h.store.Open(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.Is(err, ErrUnsupportedFormat):
		httpx.Problem(w, http.StatusUnsupportedMediaType, "Unsupported Format", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("receipts handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
