package recognizer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-recognizer/recognizer"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

type instruments struct {
	passes   metric.Int64Counter
	duration metric.Float64Histogram
	sessions metric.Int64UpDownCounter
}

// newInstruments binds to the global meter provider. Instruments that fail
// to register stay nil and are skipped.
func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{}
	if c, err := meter.Int64Counter("loqa.recognizer.passes",
		metric.WithDescription("Recognition passes by outcome")); err == nil {
		inst.passes = c
	}
	if h, err := meter.Float64Histogram("loqa.recognizer.pass.duration",
		metric.WithDescription("Recognition pass latency"),
		metric.WithUnit("ms")); err == nil {
		inst.duration = h
	}
	if u, err := meter.Int64UpDownCounter("loqa.recognizer.sessions",
		metric.WithDescription("Live engine sessions")); err == nil {
		inst.sessions = u
	}
	return inst
}

func (i *instruments) recordPass(ctx context.Context, d time.Duration, err error) {
	outcome := "ok"
	kind := "none"
	if err != nil {
		outcome = "error"
		kind = KindOf(err).Code()
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	)
	// ctx may already be cancelled; metrics are recorded regardless.
	ctx = context.WithoutCancel(ctx)
	if i.passes != nil {
		i.passes.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
}

func (i *instruments) sessionOpened(ctx context.Context) {
	if i.sessions != nil {
		i.sessions.Add(context.WithoutCancel(ctx), 1)
	}
}

func (i *instruments) sessionClosed(ctx context.Context) {
	if i.sessions != nil {
		i.sessions.Add(ctx, -1)
	}
}
