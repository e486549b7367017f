package order

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/marketplace/internal/domain/order"

type metrics struct {
	created        metric.Int64Counter
	replayed       metric.Int64Counter
	redeemed       metric.Int64Counter
	usageFailures  metric.Int64Counter
	notifyFailures metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	if m.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders persisted"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if m.replayed, err = meter.Int64Counter("orders.replayed",
		metric.WithDescription("Submissions answered with an existing order for the same idempotency key"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.replayed")
	}
	if m.redeemed, err = meter.Int64Counter("coupons.redeemed",
		metric.WithDescription("Coupon redemptions recorded"),
	); err != nil {
		return nil, errors.Wrap(err, "coupons.redeemed")
	}
	if m.usageFailures, err = meter.Int64Counter("coupons.usage_record_failures",
		metric.WithDescription("Redemptions that could not be recorded after the order was saved"),
	); err != nil {
		return nil, errors.Wrap(err, "coupons.usage_record_failures")
	}
	if m.notifyFailures, err = meter.Int64Counter("orders.handoff_failures",
		metric.WithDescription("Order summaries that could not be handed off"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.handoff_failures")
	}
	return &m, nil
}

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}
