package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	sessionsOpened    metric.Int64Counter
	sessionsClosed    metric.Int64Counter
	recomputeDuration metric.Float64Histogram
)

// InitEngineMetrics initializes the reconciliation engine counters.
func InitEngineMetrics() error {
	meter := otel.Meter("meetledger.engine")

	var err error

	sessionsOpened, err = meter.Int64Counter(
		"sessions.opened",
		metric.WithDescription("Number of sessions opened"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	sessionsClosed, err = meter.Int64Counter(
		"sessions.closed",
		metric.WithDescription("Number of sessions closed, by end reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	recomputeDuration, err = meter.Float64Histogram(
		"meeting.recompute.duration",
		metric.WithDescription("Duration of meeting aggregations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

func RecordSessionOpened(ctx context.Context) {
	if sessionsOpened != nil {
		sessionsOpened.Add(ctx, 1)
	}
}

func RecordSessionClosed(ctx context.Context, reason string) {
	if sessionsClosed != nil {
		sessionsClosed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)),
		)
	}
}

func RecordRecompute(ctx context.Context, durationMs float64) {
	if recomputeDuration != nil {
		recomputeDuration.Record(ctx, durationMs)
	}
}
