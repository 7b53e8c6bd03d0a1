package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxTracedSQL = 300

type ctxSpanKey struct{}

// PGXTracer emits a span per SQL statement issued through the pool.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query")
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", clipSQL(data.SQL)),
	)
	if op := sqlVerb(data.SQL); op != "" {
		span.SetAttributes(attribute.String("db.operation", op))
	}
	return context.WithValue(ctx, ctxSpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(ctxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	}
	span.End()
}

// sqlVerb extracts the leading keyword, e.g. SELECT or INSERT.
func sqlVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func clipSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > maxTracedSQL {
		return trimmed[:maxTracedSQL] + "..."
	}
	return trimmed
}
