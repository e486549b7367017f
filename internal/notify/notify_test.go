package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/order"
)

func testHandoff() order.Handoff {
	return order.Handoff{
		OrderID:       "o1",
		MerchantID:    "m1",
		MerchantName:  "Pizza \"Place\"",
		MerchantPhone: "+15550001",
		Total:         decimal.RequireFromString("17.5"),
		Text:          "New order #o1\nTotal: 17.50",
	}
}

func decodeFields(t *testing.T, body []byte) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		got[key] = v
		return err
	})
	require.NoError(t, err)
	return got
}

func TestEncodeHandoff(t *testing.T) {
	got := decodeFields(t, EncodeHandoff(testHandoff()))
	assert.Equal(t, map[string]string{
		"orderId":      "o1",
		"merchantId":   "m1",
		"merchantName": "Pizza \"Place\"",
		"to":           "+15550001",
		"total":        "17.50",
		"text":         "New order #o1\nTotal: 17.50",
	}, got)
}

type fakeChannel struct {
	closed    bool
	exchange  string
	key       string
	published []amqp.Publishing
	err       error

	// unconfirmed makes every publish return a confirmation that never
	// arrives, and signals on it.
	unconfirmed chan struct{}
}

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	if f.unconfirmed != nil {
		f.unconfirmed <- struct{}{}
		return &amqp.DeferredConfirmation{}, nil
	}
	return nil, nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }
func (f *fakeChannel) Close() error   { f.closed = true; return nil }

func TestAMQP_Notify(t *testing.T) {
	ch := &fakeChannel{}
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	a := &AMQP{exchange: "orders", routingKey: "order.handoff", ch: ch, now: func() time.Time { return now }}

	require.NoError(t, a.Notify(context.Background(), testHandoff()))
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "orders", ch.exchange)
	assert.Equal(t, "order.handoff", ch.key)
	assert.Equal(t, "o1", msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, now, msg.Timestamp)
	assert.Equal(t, "17.50", decodeFields(t, msg.Body)["total"])

	require.NoError(t, a.Check(context.Background()))
	require.NoError(t, a.Close())
	assert.Error(t, a.Notify(context.Background(), testHandoff()))
	assert.Error(t, a.Check(context.Background()))
}

func TestAMQP_NotifyPublishError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	a := &AMQP{ch: ch, now: time.Now}

	err := a.Notify(context.Background(), testHandoff())
	require.ErrorIs(t, err, amqp.ErrClosed)
}

func TestLog_Notify(t *testing.T) {
	assert.NoError(t, Log{}.Notify(context.Background(), testHandoff()))
}

func TestAMQP_CheckDoesNotWaitForConfirm(t *testing.T) {
	ch := &fakeChannel{unconfirmed: make(chan struct{}, 1)}
	a := &AMQP{exchange: "orders", routingKey: "order.handoff", ch: ch, now: time.Now}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Notify(ctx, testHandoff()) }()
	<-ch.unconfirmed

	checked := make(chan error, 1)
	go func() { checked <- a.Check(context.Background()) }()
	select {
	case err := <-checked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("check blocked behind a pending confirm")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
