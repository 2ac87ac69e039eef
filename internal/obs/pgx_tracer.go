package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 256

// QueryTracer plugs into pgx.ConnConfig.Tracer and opens one client span
// per statement.
type QueryTracer struct {
	// Component is recorded as db.component; defaults to "pgx".
	Component string
}

// TraceQueryStart implements pgx.QueryTracer.
func (t QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	component := t.Component
	if component == "" {
		component = "pgx"
	}
	operation := statementVerb(data.SQL)
	ctx, _ = otel.Tracer("db.pgx").Start(ctx, "db."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.component", component),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", shortStatement(data.SQL)),
			attribute.Int("db.args", len(data.Args)),
		),
	)
	return ctx
}

// TraceQueryEnd implements pgx.QueryTracer.
func (QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

func shortStatement(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > maxStatementLen {
		return s[:maxStatementLen] + "..."
	}
	return s
}
