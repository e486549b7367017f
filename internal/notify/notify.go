// Package notify delivers order handoffs to a merchant's messaging channel.
package notify

import (
	"context"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/order"
)

// Log is an order.Notifier that writes handoffs to the request logger. It is
// used when no broker is configured.
type Log struct{}

var _ order.Notifier = Log{}

// Notify logs the handoff.
func (Log) Notify(ctx context.Context, h order.Handoff) error {
	zctx.From(ctx).Info("Order handoff",
		zap.String("order_id", h.OrderID),
		zap.String("merchant_id", h.MerchantID),
		zap.String("merchant_phone", h.MerchantPhone),
		zap.String("total", h.Total.StringFixed(2)),
		zap.String("text", h.Text),
	)
	return nil
}

// EncodeHandoff renders the broker message body.
func EncodeHandoff(h order.Handoff) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(h.OrderID) })
		e.Field("merchantId", func(e *jx.Encoder) { e.Str(h.MerchantID) })
		e.Field("merchantName", func(e *jx.Encoder) { e.Str(h.MerchantName) })
		e.Field("to", func(e *jx.Encoder) { e.Str(h.MerchantPhone) })
		e.Field("total", func(e *jx.Encoder) { e.Str(h.Total.StringFixed(2)) })
		e.Field("text", func(e *jx.Encoder) { e.Str(h.Text) })
	})
	return e.Bytes()
}
