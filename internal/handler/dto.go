package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Amounts leave the API as fixed two-decimal strings.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type addressDTO struct {
	Street    string `json:"street"`
	Number    string `json:"number"`
	District  string `json:"district"`
	City      string `json:"city"`
	Reference string `json:"reference,omitempty"`
}

func (a *addressDTO) domain() *order.Address {
	if a == nil {
		return nil
	}
	return &order.Address{
		Street:    a.Street,
		Number:    a.Number,
		District:  a.District,
		City:      a.City,
		Reference: a.Reference,
	}
}

func newAddressDTO(a *order.Address) *addressDTO {
	if a == nil {
		return nil
	}
	return &addressDTO{
		Street:    a.Street,
		Number:    a.Number,
		District:  a.District,
		City:      a.City,
		Reference: a.Reference,
	}
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

type createOrderRequest struct {
	MerchantID    string             `json:"merchantId"`
	CustomerName  string             `json:"customerName"`
	Phone         string             `json:"phone"`
	Fulfillment   string             `json:"fulfillment"`
	Address       *addressDTO        `json:"address,omitempty"`
	Items         []orderItemRequest `json:"items"`
	CouponCode    string             `json:"couponCode,omitempty"`
	PaymentMethod string             `json:"paymentMethod"`
	ChangeFor     *decimal.Decimal   `json:"changeFor,omitempty"`
	Note          string             `json:"note,omitempty"`
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
	Note      string `json:"note,omitempty"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	MerchantID    string              `json:"merchantId"`
	CustomerName  string              `json:"customerName"`
	Phone         string              `json:"phone"`
	Fulfillment   string              `json:"fulfillment"`
	Address       *addressDTO         `json:"address,omitempty"`
	Items         []orderItemResponse `json:"items"`
	Subtotal      string              `json:"subtotal"`
	DeliveryFee   string              `json:"deliveryFee"`
	Discount      string              `json:"discount"`
	CouponCode    string              `json:"couponCode,omitempty"`
	Total         string              `json:"total"`
	Notes         string              `json:"notes"`
	PaymentMethod string              `json:"paymentMethod"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			LineTotal: money(it.LineTotal()),
			Note:      it.Note,
		}
	}
	return orderResponse{
		ID:            o.ID,
		MerchantID:    o.MerchantID,
		CustomerName:  o.CustomerName,
		Phone:         o.Phone,
		Fulfillment:   string(o.Fulfillment),
		Address:       newAddressDTO(o.Address),
		Items:         items,
		Subtotal:      money(o.Subtotal),
		DeliveryFee:   money(o.DeliveryFee),
		Discount:      money(o.Discount),
		CouponCode:    o.CouponCode,
		Total:         money(o.Total),
		Notes:         o.Notes,
		PaymentMethod: string(o.PaymentMethod),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type validateCouponRequest struct {
	Code       string          `json:"code"`
	MerchantID string          `json:"merchantId"`
	OrderTotal decimal.Decimal `json:"orderTotal"`
}

type couponResponse struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	MerchantID    string     `json:"merchantId,omitempty"`
	Kind          string     `json:"kind"`
	Value         string     `json:"value"`
	MinOrderValue *string    `json:"minOrderValue,omitempty"`
	MaxUses       *int       `json:"maxUses,omitempty"`
	UsedCount     int        `json:"usedCount"`
	Active        bool       `json:"active"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
}

func newCouponResponse(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		ID:         c.ID,
		Code:       c.Code,
		MerchantID: c.MerchantID,
		Kind:       string(c.Kind),
		Value:      money(c.Value),
		MaxUses:    c.MaxUses,
		UsedCount:  c.UsedCount,
		Active:     c.Active,
		ValidFrom:  c.ValidFrom,
		ValidUntil: c.ValidUntil,
	}
	if c.MinOrderValue != nil {
		v := money(*c.MinOrderValue)
		resp.MinOrderValue = &v
	}
	return resp
}

type validateCouponResponse struct {
	Success  bool            `json:"success"`
	Coupon   *couponResponse `json:"coupon,omitempty"`
	Discount string          `json:"discount,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type createCouponRequest struct {
	Code          string           `json:"code"`
	MerchantID    string           `json:"merchantId,omitempty"`
	Kind          string           `json:"kind"`
	Value         decimal.Decimal  `json:"value"`
	MinOrderValue *decimal.Decimal `json:"minOrderValue,omitempty"`
	MaxUses       *int             `json:"maxUses,omitempty"`
	Active        *bool            `json:"active,omitempty"`
	ValidFrom     *time.Time       `json:"validFrom,omitempty"`
	ValidUntil    *time.Time       `json:"validUntil,omitempty"`
}

// updateCouponRequest carries the terms to change. Omitted fields keep their
// stored value; an empty merchantId makes the coupon global.
type updateCouponRequest struct {
	MerchantID    *string          `json:"merchantId,omitempty"`
	Kind          *string          `json:"kind,omitempty"`
	Value         *decimal.Decimal `json:"value,omitempty"`
	MinOrderValue *decimal.Decimal `json:"minOrderValue,omitempty"`
	MaxUses       *int             `json:"maxUses,omitempty"`
	ValidFrom     *time.Time       `json:"validFrom,omitempty"`
	ValidUntil    *time.Time       `json:"validUntil,omitempty"`
}

func (req updateCouponRequest) apply(t coupon.Terms) coupon.Terms {
	if req.MerchantID != nil {
		t.MerchantID = *req.MerchantID
	}
	if req.Kind != nil {
		t.Kind = coupon.Kind(*req.Kind)
	}
	if req.Value != nil {
		t.Value = *req.Value
	}
	if req.MinOrderValue != nil {
		t.MinOrderValue = req.MinOrderValue
	}
	if req.MaxUses != nil {
		t.MaxUses = req.MaxUses
	}
	if req.ValidFrom != nil {
		t.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		t.ValidUntil = req.ValidUntil
	}
	return t
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type availabilityResponse struct {
	MerchantID      string     `json:"merchantId"`
	Open            bool       `json:"open"`
	Source          string     `json:"source"`
	NextOpening     *time.Time `json:"nextOpening,omitempty"`
	NextOpeningText string     `json:"nextOpeningText,omitempty"`
}

type sweepChange struct {
	MerchantID string `json:"merchantId"`
	Name       string `json:"name"`
	Before     bool   `json:"before"`
	After      bool   `json:"after"`
}

type sweepResponse struct {
	Checked int           `json:"checked"`
	Updated int           `json:"updated"`
	Changes []sweepChange `json:"changes"`
}

func newSweepResponse(s *merchant.Summary) sweepResponse {
	changes := make([]sweepChange, len(s.Changes))
	for i, c := range s.Changes {
		changes[i] = sweepChange{MerchantID: c.MerchantID, Name: c.Name, Before: c.Before, After: c.After}
	}
	return sweepResponse{Checked: s.Checked, Updated: s.UpdatedCount, Changes: changes}
}
