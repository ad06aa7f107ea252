package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	dbTracerName      = "go-sqlobject/database"
	maxDBQueryAttrLen = 2000

	attrHandleID  = "db.handle.id"
	attrBatchSize = "db.operation.batch.size"
)

// TrackDBOperation records a completed statement. rowsAffected is 0 for
// reads. It is a no-op when tc or its logger is nil.
//
// sql.ErrNoRows is an empty result rather than a failure: it logs at debug
// and leaves the span status unset.
func TrackDBOperation(ctx context.Context, tc *Context, query string, args []any, start time.Time, rowsAffected int64, err error) {
	track(ctx, tc, query, args, 0, start, rowsAffected, err)
}

// TrackBatch records one batch chunk of size rows sent for query.
func TrackBatch(ctx context.Context, tc *Context, query string, size int, start time.Time, rowsAffected int64, err error) {
	track(ctx, tc, query, nil, size, start, rowsAffected, err)
}

func track(ctx context.Context, tc *Context, query string, args []any, batch int, start time.Time, rowsAffected int64, err error) {
	if tc == nil || tc.Logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	elapsed := time.Since(start)
	createDBSpan(ctx, tc, query, batch, start, err)
	recordDBMetrics(ctx, tc, query, elapsed, rowsAffected, err)

	fields := map[string]any{
		"vendor":      tc.Vendor,
		"duration_ms": elapsed.Milliseconds(),
		"query":       TruncateString(query, tc.Settings.MaxQueryLength()),
	}
	if tc.HandleID != "" {
		fields["handle_id"] = tc.HandleID
	}
	if batch > 0 {
		fields["batch_size"] = batch
	}
	if rowsAffected > 0 {
		fields["rows_affected"] = rowsAffected
	}
	if tc.Settings.LogQueryParameters() && len(args) > 0 {
		fields["args"] = SanitizeArgs(args, tc.Settings.MaxQueryLength())
	}
	log := tc.Logger.WithContext(ctx).WithFields(fields)

	switch {
	case err != nil && errors.Is(err, sql.ErrNoRows):
		log.Debug().Msg("Database operation returned no rows")
	case err != nil:
		log.Error().Err(err).Msg("Database operation error")
	case elapsed > tc.Settings.SlowQueryThreshold():
		log.Warn().Msgf("Slow database operation detected (%s)", elapsed)
	default:
		log.Debug().Msg("Database operation executed")
	}
}

func createDBSpan(ctx context.Context, tc *Context, query string, batch int, start time.Time, err error) {
	operation := extractDBOperation(query)

	_, span := otel.Tracer(dbTracerName).Start(ctx, fmt.Sprintf("db.%s", operation),
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	attrs := []attribute.KeyValue{
		attribute.String("db.system", normalizeDBVendor(tc.Vendor)),
		semconv.DBQueryText(TruncateString(query, maxDBQueryAttrLen)),
	}
	if operation != defaultOperation {
		attrs = append(attrs, semconv.DBOperationName(operation))
	}
	if tc.HandleID != "" {
		attrs = append(attrs, attribute.String(attrHandleID, tc.HandleID))
	}
	if batch > 0 {
		attrs = append(attrs, attribute.Int(attrBatchSize, batch))
	}
	span.SetAttributes(attrs...)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RowsAffected extracts the affected count, returning 0 when it is unknown.
func RowsAffected(result sql.Result, err error) int64 {
	if result == nil || err != nil {
		return 0
	}
	n, affErr := result.RowsAffected()
	if affErr != nil {
		return 0
	}
	return n
}
