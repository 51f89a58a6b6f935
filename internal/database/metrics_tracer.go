package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/farmpulse/farmpulse/internal/metrics"
)

// MetricsTracer implements pgx.QueryTracer to measure tier and usage queries.
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: statementKind(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(qctx.queryName).Inc()
	}
}

// statementKind reduces SQL to its leading keyword so metric labels stay
// low-cardinality.
func statementKind(sql string) string {
	if sql == "" {
		return "unknown"
	}
	for i, c := range sql {
		if c == ' ' || c == '\n' || c == '\t' {
			if i > 0 {
				return sql[:i]
			}
			break
		}
	}
	if len(sql) > 20 {
		return sql[:20]
	}
	return sql
}
