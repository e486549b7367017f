package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
)

// IdempotencyKeyHeader names one checkout attempt.
const IdempotencyKeyHeader = "Idempotency-Key"

// CreateOrder submits an order for the authenticated customer. A replayed
// idempotency key answers 200 with the stored order instead of 201.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, _ := auth.Principal(r.Context())

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity, Note: it.Note}
	}

	res, err := h.orders.Submit(r.Context(), order.SubmitRequest{
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		MerchantID:     req.MerchantID,
		CustomerID:     principal.Subject,
		CustomerName:   req.CustomerName,
		Phone:          req.Phone,
		Fulfillment:    order.Fulfillment(req.Fulfillment),
		Address:        req.Address.domain(),
		Items:          items,
		CouponCode:     req.CouponCode,
		PaymentMethod:  order.PaymentMethod(req.PaymentMethod),
		ChangeFor:      req.ChangeFor,
		Note:           req.Note,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, newOrderResponse(res.Order))
}

// GetOrder returns an order. Customers only see their own orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	principal, _ := auth.Principal(r.Context())
	if !principal.HasScope(auth.ScopeOperator) && o.CustomerID != principal.Subject {
		writeOrderError(w, r, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// UpdateOrderStatus applies an operator status change.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.Status(req.Status))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

var badRequestErrors = []error{
	order.ErrIdempotencyKeyRequired,
	order.ErrCustomerRequired,
	order.ErrEmptyItems,
	order.ErrInvalidFulfillment,
	order.ErrAddressRequired,
	order.ErrInvalidPaymentMethod,
	order.ErrChangeRequiresCash,
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	resp := mapOrderError(err)
	if resp.Code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Order request failed", zap.Error(err))
	}
	if errors.Is(err, order.ErrSubmissionInProgress) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, resp.Code, resp)
}

// mapOrderError converts domain errors to API error responses. Unknown errors
// map to 500.
func mapOrderError(err error) errorResponse {
	var (
		couponErr       *coupon.ValidationError
		quantityErr     *order.InvalidQuantityError
		notFoundErr     *order.ProductNotFoundError
		unavailableErr  *order.ProductUnavailableError
		invalidStatus   *order.InvalidStatusError
		invalidTransErr *order.InvalidTransitionError
	)
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return errorResponse{Code: http.StatusBadRequest, Message: target.Error()}
		}
	}

	switch {
	case errors.As(err, &couponErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: couponErr.Message, Reason: string(couponErr.Reason)}
	case errors.As(err, &quantityErr):
		return errorResponse{Code: http.StatusBadRequest, Message: quantityErr.Error()}
	case errors.As(err, &notFoundErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: notFoundErr.Error()}
	case errors.As(err, &unavailableErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: unavailableErr.Error()}
	case errors.As(err, &invalidStatus):
		return errorResponse{Code: http.StatusBadRequest, Message: invalidStatus.Error()}
	case errors.As(err, &invalidTransErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: invalidTransErr.Error()}
	case errors.Is(err, order.ErrNotFound):
		return errorResponse{Code: http.StatusNotFound, Message: order.ErrNotFound.Error()}
	case errors.Is(err, merchant.ErrNotFound):
		return errorResponse{Code: http.StatusNotFound, Message: merchant.ErrNotFound.Error()}
	case errors.Is(err, order.ErrMerchantClosed):
		return errorResponse{Code: http.StatusConflict, Message: order.ErrMerchantClosed.Error()}
	case errors.Is(err, order.ErrSubmissionInProgress):
		return errorResponse{Code: http.StatusConflict, Message: order.ErrSubmissionInProgress.Error()}
	case errors.Is(err, order.ErrIdempotencyKeyReused):
		return errorResponse{Code: http.StatusConflict, Message: order.ErrIdempotencyKeyReused.Error()}
	case errors.Is(err, order.ErrStatusConflict):
		return errorResponse{Code: http.StatusConflict, Message: order.ErrStatusConflict.Error()}
	case errors.Is(err, order.ErrPersistenceFailure):
		return errorResponse{Code: http.StatusInternalServerError, Message: order.ErrPersistenceFailure.Error() + ", please retry"}
	default:
		return errorResponse{Code: http.StatusInternalServerError, Message: "internal error"}
	}
}
