package gate

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jamestelfer/bearer-gate/internal/gate"

var (
	tracer = otel.Tracer(instrumentationName)

	validations metric.Int64Counter
)

func init() {
	var err error

	validations, err = otel.Meter(instrumentationName).Int64Counter(
		"gate.validations",
		metric.WithDescription("Validations performed by request gates, by gate and outcome."),
	)
	if err != nil {
		otel.Handle(err)
	}
}

// startValidation opens the span covering a single validator invocation.
func startValidation(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gate."+name, trace.WithAttributes(attribute.String("gate.name", name)))
}

// endValidation records the outcome on the span and the validation counter.
func endValidation(ctx context.Context, span trace.Span, name string, result Result) {
	outcome := "ok"
	if !result.OK() {
		outcome = string(result.Err.Kind)
		span.SetStatus(codes.Error, outcome)
	}

	span.SetAttributes(attribute.String("gate.outcome", outcome))
	span.End()

	if validations != nil {
		validations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gate.name", name),
			attribute.String("gate.outcome", outcome),
		))
	}
}
