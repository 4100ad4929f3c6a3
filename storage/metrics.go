package storage

import (
	"context"
	"errors"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/creativeprojects/mailstore/storage"

// instrumentation records the store operations with OpenTelemetry.
// The global providers are used unless others are given in the options: they do nothing until configured.
type instrumentation struct {
	tracer trace.Tracer

	latency        metric.Float64Histogram
	operations     metric.Int64Counter
	errors         metric.Int64Counter
	lockTimeouts   metric.Int64Counter
	uidAllocations metric.Int64Counter
	events         metric.Int64Counter
}

func newInstrumentation(tp trace.TracerProvider, mp metric.MeterProvider) (*instrumentation, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	o := &instrumentation{
		tracer: tp.Tracer(instrumentationName),
	}

	var err error
	o.latency, err = meter.Float64Histogram(
		"mailstore.operation.duration",
		metric.WithDescription("Duration of store operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	o.operations, err = meter.Int64Counter(
		"mailstore.operation.count",
		metric.WithDescription("Number of store operations"),
	)
	if err != nil {
		return nil, err
	}

	o.errors, err = meter.Int64Counter(
		"mailstore.operation.errors",
		metric.WithDescription("Number of failed store operations"),
	)
	if err != nil {
		return nil, err
	}

	o.lockTimeouts, err = meter.Int64Counter(
		"mailstore.lock.timeouts",
		metric.WithDescription("Number of operations aborted waiting for a mailbox lock"),
	)
	if err != nil {
		return nil, err
	}

	o.uidAllocations, err = meter.Int64Counter(
		"mailstore.uid.allocations",
		metric.WithDescription("Number of UIDs allocated"),
	)
	if err != nil {
		return nil, err
	}

	o.events, err = meter.Int64Counter(
		"mailstore.events.dispatched",
		metric.WithDescription("Number of mailbox events dispatched"),
	)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// start opens a span for an operation. The returned function records the metrics and ends the span.
func (o *instrumentation) start(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "mailstore."+op, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(err error) {
		attrs := metric.WithAttributes(attribute.String("operation", op))
		o.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		o.operations.Add(ctx, 1, attrs)
		if err != nil {
			o.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", op),
				attribute.String("kind", lib.KindOf(err).String()),
			))
			if errors.Is(err, lib.ErrLockTimeout) {
				o.lockTimeouts.Add(ctx, 1, attrs)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (o *instrumentation) recordAllocation(ctx context.Context) {
	o.uidAllocations.Add(ctx, 1)
}

func (o *instrumentation) recordEvents(ctx context.Context, count int) {
	if count == 0 {
		return
	}
	o.events.Add(ctx, int64(count))
}
