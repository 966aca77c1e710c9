package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY BEST PRACTICES:
//
// High cardinality attributes (unique values per operation) should NEVER be
// added to spans that contribute to metrics, as they create unbounded metric
// series and can cause:
// - Memory exhaustion
// - Query performance degradation
// - Storage cost explosion
//
// AVOID these as span attributes:
// - Episode titles, enclosure URLs, file paths
// - Checksums, GUIDs, timestamps
// - Error messages with dynamic content
//
// SAFE attributes (bounded cardinality):
// - Operation types (limited set: "insert_episode", "mark_downloaded")
// - Status values (limited set: "success", "error", "dedup")
// - Component names (limited set: "database", "downloader", "syncer")
//
// For debugging, high-cardinality data belongs in logs correlated through
// the trace id, not in span attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(
			attribute.Bool("error", true),
			// Note: error.message is intentionally NOT added as attribute to prevent
			// high cardinality from unique error messages. Full error is in span status.
		)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments catalog operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentDownload instruments one enclosure download. The callback
// returns the download status ("success" or "dedup") so reused payloads show
// up as their own series.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) (string, error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	var status string

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		var fnErr error
		status, fnErr = fn(ctx)

		return fnErr
	})

	if err != nil {
		status = "error"
	} else if status == "" {
		status = "success"
	}

	t.RecordDownload(status, time.Since(start))

	return err
}

// InstrumentFeedPass instruments one feed synchronization pass.
func (t *Telemetry) InstrumentFeedPass(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "feed_pass", "syncer", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordFeedPass(status, time.Since(start))

	return err
}
