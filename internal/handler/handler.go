// Package handler exposes the marketplace checkout API over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Deps are the domain collaborators of the Handler.
type Deps struct {
	Orders    *order.Service
	Coupons   coupon.Checker
	Admin     *coupon.Admin
	Merchants merchant.Repository
	Sweeper   *merchant.Sweeper
	// Location is where merchant opening hours are evaluated.
	Location *time.Location
}

// Handler serves the /api routes.
type Handler struct {
	orders    *order.Service
	coupons   coupon.Checker
	admin     *coupon.Admin
	merchants merchant.Repository
	sweeper   *merchant.Sweeper
	loc       *time.Location
	now       func() time.Time
}

// New creates a Handler.
func New(deps Deps) *Handler {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		orders:    deps.Orders,
		coupons:   deps.Coupons,
		admin:     deps.Admin,
		merchants: deps.Merchants,
		sweeper:   deps.Sweeper,
		loc:       loc,
		now:       time.Now,
	}
}

// Routes returns the API route tree guarded by sec. Mount it under /api.
func (h *Handler) Routes(sec *SecurityHandler) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/merchants/{id}/availability", h.GetAvailability)

		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeCustomer, auth.ScopeOperator))
			r.Post("/coupons/validate", h.ValidateCoupon)
			r.Get("/orders/{id}", h.GetOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeCustomer))
			r.Post("/orders", h.CreateOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeOperator))
			r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
			r.Post("/admin/sweep", h.Sweep)
			r.Post("/admin/coupons", h.CreateCoupon)
			r.Patch("/admin/coupons/{id}", h.UpdateCoupon)
			r.Patch("/admin/coupons/{id}/active", h.SetCouponActive)
			r.Delete("/admin/coupons/{id}", h.DeleteCoupon)
		})
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeInternal logs err and answers with a generic 500.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
