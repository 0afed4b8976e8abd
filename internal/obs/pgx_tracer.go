package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var pgxTracer = otel.Tracer("toko-checkout/pgx")

// PGXTracer emits client spans for single queries and for batches, which the
// order store uses to write headers and lines in one round trip.
type PGXTracer struct{}

var (
	_ pgx.QueryTracer = PGXTracer{}
	_ pgx.BatchTracer = PGXTracer{}
)

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	verb := sqlVerb(data.SQL)
	ctx, _ = pgxTracer.Start(ctx, "pgx "+verb,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation.name", verb),
			attribute.String("db.query.text", clipSQL(data.SQL)),
		))
	return ctx
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	endSpan(trace.SpanFromContext(ctx), data.Err, data.CommandTag.RowsAffected())
}

func (PGXTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	size := 0
	if data.Batch != nil {
		size = data.Batch.Len()
	}
	ctx, _ = pgxTracer.Start(ctx, "pgx batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.Int("db.batch.size", size),
		))
	return ctx
}

// TraceBatchQuery marks each statement on the batch span instead of opening
// a child per statement.
func (PGXTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(sqlVerb(data.SQL), trace.WithAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected())))
	if data.Err != nil {
		span.RecordError(data.Err)
	}
}

func (PGXTracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	endSpan(trace.SpanFromContext(ctx), data.Err, -1)
}

func endSpan(span trace.Span, err error, rows int64) {
	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sqlVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(fields[0])
}

func clipSQL(sql string) string {
	const limit = 300
	sql = strings.TrimSpace(sql)
	if len(sql) <= limit {
		return sql
	}
	return sql[:limit] + "..."
}
