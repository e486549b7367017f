// Package checkout guards a single checkout attempt on the client side of the
// order API: it turns repeated submit triggers into at most one order.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/order"
)

// DefaultDebounce is the minimum spacing between two accepted submissions.
const DefaultDebounce = 2 * time.Second

// ErrIgnored is returned for a submit call that was dropped as a duplicate
// trigger. Callers treat it as a no-op.
var ErrIgnored = errors.New("submission ignored")

// State is the lifecycle of one checkout attempt.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSubmitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Submitter creates orders. *order.Service and the HTTP client both satisfy
// it.
type Submitter interface {
	Submit(ctx context.Context, req order.SubmitRequest) (*order.SubmitResult, error)
}

// Cart is the local cart state of the attempt.
type Cart interface {
	Items() []order.ItemRequest
	Clear()
}

// Form is the recipient and payment input collected at checkout.
type Form struct {
	MerchantID    string
	CustomerID    string
	CustomerName  string
	Phone         string
	Fulfillment   order.Fulfillment
	Address       *order.Address
	CouponCode    string
	PaymentMethod order.PaymentMethod
	ChangeFor     *decimal.Decimal
	Note          string
}

// Controller owns one logical checkout attempt. A successful attempt never
// submits again; a failed one may be retried after the debounce window and
// reuses its idempotency token, so the server dedupes retries as well.
type Controller struct {
	submitter Submitter
	cart      Cart
	debounce  time.Duration
	now       func() time.Time
	newToken  func() string

	mu         sync.Mutex
	state      State
	token      string
	lastSubmit time.Time
	order      *order.Order
	lastErr    error
}

// New creates a Controller in StateIdle.
func New(submitter Submitter, cart Cart, debounce time.Duration) *Controller {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Controller{
		submitter: submitter,
		cart:      cart,
		debounce:  debounce,
		now:       time.Now,
		newToken:  func() string { return uuid.New().String() },
	}
}

// Submit sends the cart as an order. While a submission is in flight, after
// success, or within the debounce window of the previous accepted call it
// returns ErrIgnored without side effects.
func (c *Controller) Submit(ctx context.Context, form Form) (*order.Order, error) {
	c.mu.Lock()
	now := c.now()
	if c.state == StateSubmitting || c.state == StateSubmitted {
		c.mu.Unlock()
		return nil, ErrIgnored
	}
	if !c.lastSubmit.IsZero() && now.Sub(c.lastSubmit) < c.debounce {
		c.mu.Unlock()
		return nil, ErrIgnored
	}
	c.state = StateSubmitting
	c.lastSubmit = now
	if c.token == "" {
		c.token = c.newToken()
	}
	req := order.SubmitRequest{
		IdempotencyKey: c.token,
		MerchantID:     form.MerchantID,
		CustomerID:     form.CustomerID,
		CustomerName:   form.CustomerName,
		Phone:          form.Phone,
		Fulfillment:    form.Fulfillment,
		Address:        form.Address,
		Items:          c.cart.Items(),
		CouponCode:     form.CouponCode,
		PaymentMethod:  form.PaymentMethod,
		ChangeFor:      form.ChangeFor,
		Note:           form.Note,
	}
	c.mu.Unlock()

	res, err := c.submitter.Submit(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		return nil, err
	}
	c.state = StateSubmitted
	c.order = res.Order
	c.lastErr = nil
	c.cart.Clear()
	return res.Order, nil
}

// State returns the current attempt state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the attempt's idempotency token, empty before the first
// accepted submission.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Order returns the created order after a successful submission.
func (c *Controller) Order() *order.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order
}

// Err returns the error of the last failed submission.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
