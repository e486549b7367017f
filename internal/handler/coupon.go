package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
)

// ValidateCoupon previews a coupon for the caller's cart. Rejections answer
// 422 with a machine readable reason.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" || req.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "code and merchantId are required")
		return
	}
	if req.OrderTotal.IsNegative() {
		writeError(w, http.StatusBadRequest, "orderTotal must not be negative")
		return
	}
	principal, _ := auth.Principal(r.Context())

	res, err := h.coupons.Validate(r.Context(), coupon.Request{
		Code:       req.Code,
		MerchantID: req.MerchantID,
		Subtotal:   req.OrderTotal,
		CustomerID: principal.Subject,
	})
	if err != nil {
		var verr *coupon.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, validateCouponResponse{
				Reason:  string(verr.Reason),
				Message: verr.Message,
			})
			return
		}
		writeInternal(w, r, err)
		return
	}

	c := newCouponResponse(&res.Coupon)
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Success:  true,
		Coupon:   &c,
		Discount: money(res.Discount),
	})
}

// CreateCoupon stores a new coupon definition.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c := &coupon.Coupon{
		Code:          req.Code,
		MerchantID:    req.MerchantID,
		Kind:          coupon.Kind(req.Kind),
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxUses:       req.MaxUses,
		Active:        req.Active == nil || *req.Active,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
	}
	if err := h.admin.Create(r.Context(), c); err != nil {
		writeCouponError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCouponResponse(c))
}

// UpdateCoupon edits the terms of a coupon. Recorded redemptions stay with
// the coupon.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req updateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	current, err := h.admin.Get(r.Context(), id)
	if err != nil {
		writeCouponError(w, r, err)
		return
	}
	updated, err := h.admin.Update(r.Context(), id, req.apply(current.Terms()))
	if err != nil {
		writeCouponError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCouponResponse(updated))
}

// SetCouponActive toggles a coupon.
func (h *Handler) SetCouponActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.admin.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active); err != nil {
		writeCouponError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCoupon removes a coupon and its usage records. Orders keep their
// discount but lose the coupon reference.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCouponError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCouponError(w http.ResponseWriter, r *http.Request, err error) {
	var defErr *coupon.InvalidDefinitionError
	switch {
	case errors.As(err, &defErr):
		writeError(w, http.StatusBadRequest, defErr.Error())
	case errors.Is(err, coupon.ErrDuplicateCode):
		writeError(w, http.StatusConflict, coupon.ErrDuplicateCode.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, coupon.ErrNotFound.Error())
	default:
		writeInternal(w, r, err)
	}
}
