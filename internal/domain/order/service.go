package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/product"
)

// ItemRequest is one requested cart line.
type ItemRequest struct {
	ProductID string
	Quantity  int
	Note      string
}

// SubmitRequest holds the input for submitting an order.
type SubmitRequest struct {
	// IdempotencyKey identifies one checkout attempt. Retries of the same
	// attempt reuse it.
	IdempotencyKey string
	MerchantID     string
	// CustomerID is the authenticated principal, never client supplied.
	CustomerID    string
	CustomerName  string
	Phone         string
	Fulfillment   Fulfillment
	Address       *Address
	Items         []ItemRequest
	CouponCode    string
	PaymentMethod PaymentMethod
	ChangeFor     *decimal.Decimal
	Note          string
}

// SubmitResult holds the output of a submission. Replayed is set when the
// order already existed for the idempotency key.
type SubmitResult struct {
	Order    *Order
	Replayed bool
}

// Config tunes the order Service.
type Config struct {
	// RecordMode selects how coupon redemptions are recorded. In
	// coupon.RecordAtomic mode the redemption is part of the order
	// transaction; in coupon.RecordReadThenWrite mode it runs after commit
	// and failures only get logged.
	RecordMode coupon.RecordMode
	// LockTTL bounds how long a submission holds its idempotency lock.
	LockTTL time.Duration
	// StrictStatus restricts status changes to the lifecycle graph.
	StrictStatus bool
	// Location is where merchant opening hours are evaluated.
	Location *time.Location
	// NotifyTimeout bounds a single handoff attempt.
	NotifyTimeout time.Duration
}

// Deps are the collaborators of the order Service. Locker, Notifier and the
// telemetry providers are optional. Usage is required in
// coupon.RecordReadThenWrite mode.
type Deps struct {
	Merchants      merchant.Repository
	Products       product.Repository
	Coupons        coupon.Checker
	Orders         Repository
	Usage          coupon.UsageStore
	Locker         Locker
	Notifier       Notifier
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service encapsulates order submission and lifecycle logic.
type Service struct {
	merchants merchant.Repository
	products  product.Repository
	coupons   coupon.Checker
	orders    Repository
	usage     coupon.UsageStore
	locker    Locker
	notifier  Notifier

	cfg      Config
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time
	handoffs sync.WaitGroup
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if cfg.RecordMode == coupon.RecordReadThenWrite && deps.Usage == nil {
		return nil, errors.New("usage store required for read-then-write redemption")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}

	m, err := newMetrics(deps.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	return &Service{
		merchants: deps.Merchants,
		products:  deps.Products,
		coupons:   deps.Coupons,
		orders:    deps.Orders,
		usage:     deps.Usage,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		cfg:       cfg,
		metrics:   m,
		tracer:    newTracer(deps.TracerProvider),
		now:       time.Now,
	}, nil
}

// Submit turns a checkout attempt into exactly one persisted order.
//
// A repeated idempotency key returns the stored order with Replayed set.
// Coupons are validated again here; a discount reported by the client is
// never trusted.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *SubmitResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Submit",
		trace.WithAttributes(attribute.String("merchant.id", req.MerchantID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if res, err := s.replay(ctx, req); res != nil || err != nil {
		return res, err
	}

	if s.locker != nil {
		lg := zctx.From(ctx)
		lockKey := "order:submit:" + req.IdempotencyKey
		token, acquired, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			lg.Warn("Idempotency lock unavailable, relying on unique key", zap.Error(err))
		case !acquired:
			return nil, ErrSubmissionInProgress
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
					lg.Warn("Release idempotency lock", zap.Error(err))
				}
			}()
			// The holder of the previous lock may have committed meanwhile.
			if res, err := s.replay(ctx, req); res != nil || err != nil {
				return res, err
			}
		}
	}

	m, err := s.merchants.Get(ctx, req.MerchantID)
	if err != nil {
		return nil, errors.Wrap(err, "get merchant")
	}
	if !m.Availability(s.now().In(s.cfg.Location)).Open {
		return nil, ErrMerchantClosed
	}

	items, subtotal, err := s.priceItems(ctx, m.ID, req.Items)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		MerchantID:     m.ID,
		CustomerID:     req.CustomerID,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		Phone:          strings.TrimSpace(req.Phone),
		Fulfillment:    req.Fulfillment,
		Items:          items,
		Subtotal:       subtotal,
		DeliveryFee:    decimal.Zero,
		Discount:       decimal.Zero,
		Notes:          ComposeNotes(req.PaymentMethod, req.ChangeFor, req.Note),
		PaymentMethod:  req.PaymentMethod,
		Status:         StatusPending,
		CreatedAt:      s.now(),
	}
	if req.Fulfillment == FulfillmentDelivery {
		o.Address = req.Address
		o.DeliveryFee = m.DeliveryFee
	}

	var redemption *coupon.Redemption
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		res, err := s.coupons.Validate(ctx, coupon.Request{
			Code:       code,
			MerchantID: m.ID,
			Subtotal:   subtotal,
			CustomerID: req.CustomerID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		o.Discount = res.Discount
		o.CouponID = res.Coupon.ID
		o.CouponCode = res.Coupon.Code
		redemption = &coupon.Redemption{
			CouponID:   res.Coupon.ID,
			CustomerID: req.CustomerID,
			OrderID:    o.ID,
			At:         o.CreatedAt,
		}
	}
	o.Total = o.Subtotal.Add(o.DeliveryFee).Sub(o.Discount)

	if err := s.persist(ctx, o, redemption); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost a race against a submission on another instance.
			if res, replayErr := s.replay(ctx, req); res != nil || replayErr != nil {
				return res, replayErr
			}
		}
		return nil, err
	}

	s.metrics.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fulfillment", string(o.Fulfillment)),
		attribute.Bool("coupon", redemption != nil),
	))
	span.SetAttributes(attribute.String("order.id", o.ID))

	s.handoff(ctx, o, m)

	return &SubmitResult{Order: o}, nil
}

// replay returns the stored order for the request's idempotency key, or nil
// without error when there is none.
func (s *Service) replay(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	o, err := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "find order by idempotency key")
	}
	if o.CustomerID != req.CustomerID {
		return nil, ErrIdempotencyKeyReused
	}

	s.metrics.replayed.Add(ctx, 1)
	zctx.From(ctx).Info("Replaying order for idempotency key", zap.String("order_id", o.ID))
	return &SubmitResult{Order: o, Replayed: true}, nil
}

func (s *Service) persist(ctx context.Context, o *Order, red *coupon.Redemption) error {
	var redeem RedeemFunc
	if red != nil && s.cfg.RecordMode == coupon.RecordAtomic {
		redeem = func(ctx context.Context, usage coupon.UsageStore) error {
			return coupon.NewRecorder(usage, coupon.RecordAtomic).Record(ctx, *red)
		}
	}

	if err := s.orders.Create(ctx, o, redeem); err != nil {
		var verr *coupon.ValidationError
		switch {
		case errors.As(err, &verr):
			// Another redemption took the last use or this customer's slot
			// between validation and commit.
			return verr
		case errors.Is(err, ErrDuplicateKey):
			return ErrDuplicateKey
		default:
			return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
	}

	if red == nil {
		return nil
	}
	if s.cfg.RecordMode == coupon.RecordReadThenWrite {
		if err := coupon.NewRecorder(s.usage, coupon.RecordReadThenWrite).Record(ctx, *red); err != nil {
			s.metrics.usageFailures.Add(ctx, 1)
			zctx.From(ctx).Error("Usage record failure, order kept",
				zap.String("order_id", o.ID),
				zap.String("coupon_id", red.CouponID),
				zap.Error(err),
			)
			return nil
		}
	}
	s.metrics.redeemed.Add(ctx, 1)
	return nil
}

func (s *Service) priceItems(ctx context.Context, merchantID string, reqs []ItemRequest) ([]Item, decimal.Decimal, error) {
	ids := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r.ProductID]; !ok {
			seen[r.ProductID] = struct{}{}
			ids = append(ids, r.ProductID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, merchantID, ids)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, 0, len(reqs))
	subtotal := decimal.Zero
	for _, r := range reqs {
		p, ok := byID[r.ProductID]
		if !ok || p.MerchantID != merchantID {
			return nil, decimal.Zero, &ProductNotFoundError{ProductID: r.ProductID}
		}
		if !p.Available {
			return nil, decimal.Zero, &ProductUnavailableError{ProductID: p.ID, Name: p.Name}
		}
		it := Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  r.Quantity,
			Note:      strings.TrimSpace(r.Note),
		}
		items = append(items, it)
		subtotal = subtotal.Add(it.LineTotal())
	}
	return items, subtotal.Round(2), nil
}

// handoff sends the order summary without blocking the caller. The send is
// detached from the request context so a client disconnect does not cancel
// it.
func (s *Service) handoff(ctx context.Context, o *Order, m *merchant.Merchant) {
	if s.notifier == nil {
		return
	}
	h := Handoff{
		OrderID:       o.ID,
		MerchantID:    m.ID,
		MerchantName:  m.Name,
		MerchantPhone: m.Phone,
		Total:         o.Total,
		Text:          FormatSummary(o, m.Name),
	}
	ctx = context.WithoutCancel(ctx)
	s.handoffs.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, h); err != nil {
			s.metrics.notifyFailures.Add(ctx, 1)
			zctx.From(ctx).Warn("Order handoff failed",
				zap.String("order_id", h.OrderID),
				zap.Error(err),
			)
		}
	})
}

// Wait blocks until in-flight handoffs finish.
func (s *Service) Wait() {
	s.handoffs.Wait()
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// UpdateStatus moves an order to status `to`. The write is conditional on the
// status read, so two operators racing on one order cannot both succeed.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if err := Transition(o.Status, to, s.cfg.StrictStatus); err != nil {
		return nil, err
	}
	if err := s.orders.UpdateStatus(ctx, id, o.Status, to); err != nil {
		return nil, errors.Wrapf(err, "update order %s status", id)
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	o.Status = to
	return o, nil
}

func validateRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return ErrIdempotencyKeyRequired
	}
	if req.CustomerID == "" || strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.Phone) == "" {
		return ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID}
		}
	}

	switch req.Fulfillment {
	case FulfillmentDelivery:
		if req.Address == nil || strings.TrimSpace(req.Address.Street) == "" {
			return ErrAddressRequired
		}
	case FulfillmentPickup:
	default:
		return ErrInvalidFulfillment
	}

	if !req.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if req.ChangeFor != nil && req.PaymentMethod != PaymentCash {
		return ErrChangeRequiresCash
	}
	return nil
}
