package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/merchant"
)

// GetAvailability reports whether a merchant takes orders right now.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.merchants.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, merchant.ErrNotFound) {
			writeError(w, http.StatusNotFound, merchant.ErrNotFound.Error())
			return
		}
		writeInternal(w, r, err)
		return
	}

	a := m.Availability(h.now().In(h.loc))
	resp := availabilityResponse{
		MerchantID:      m.ID,
		Open:            a.Open,
		Source:          string(a.Source),
		NextOpeningText: a.NextOpeningText(),
	}
	if !a.NextOpening.IsZero() {
		resp.NextOpening = &a.NextOpening
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sweep reconciles stored open flags with opening hours now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		updated := 0
		if summary != nil {
			updated = summary.UpdatedCount
		}
		zctx.From(r.Context()).Error("Sweep failed", zap.Error(err), zap.Int("updated", updated))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, newSweepResponse(summary))
}
