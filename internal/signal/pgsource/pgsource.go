// Package pgsource imports the initial signal list from a PostgreSQL view.
// It only reads; operator changes are never written back.
package pgsource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/opsfocus/internal/postgres"
	"github.com/linnemanlabs/opsfocus/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/opsfocus/internal/signal/pgsource")

// Operation is the metrics label attached to import queries.
const Operation = "seed.import"

const selectSignals = `SELECT id, source, occurred_at, subject, body, raw_severity,
	calculated_severity, is_read, status, tags
	FROM ops_signals ORDER BY occurred_at DESC`

// Querier is the subset of pgxpool.Pool used here.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Source reads signals from the ops_signals table or view.
type Source struct {
	db Querier
}

// New returns a Source reading through db.
func New(db Querier) *Source {
	return &Source{db: db}
}

// Load reads and validates every row. One invalid row fails the whole import.
func (s *Source) Load(ctx context.Context) ([]signal.Signal, error) {
	ctx, span := tracer.Start(ctx, "pgsource.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	ctx = postgres.WithOperation(postgres.NewQueryStatsContext(ctx), Operation)

	out, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("opsfocus.signals.count", len(out)))

	if stats, ok := postgres.QueryStatsFromContext(ctx); ok {
		n, total, _ := stats.Snapshot()
		log.FromContext(ctx).Info(ctx, "imported signals from postgres",
			"signals", len(out),
			"queries", n,
			"db_time", total.Seconds(),
		)
	}
	return out, nil
}

func (s *Source) load(ctx context.Context) ([]signal.Signal, error) {
	rows, err := s.db.Query(ctx, selectSignals)
	if err != nil {
		return nil, fmt.Errorf("query ops_signals: %w", err)
	}
	defer rows.Close()

	out := []signal.Signal{}
	seen := make(map[string]struct{})
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		if err := sig.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[sig.ID]; dup {
			return nil, fmt.Errorf("duplicate signal id %q", sig.ID)
		}
		seen[sig.ID] = struct{}{}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops_signals: %w", err)
	}
	return out, nil
}

func scanSignal(row pgx.Row) (signal.Signal, error) {
	var (
		sig                      signal.Signal
		source, severity, status string
		body, rawSeverity        *string
		occurredAt               time.Time
		tags                     []string
	)
	if err := row.Scan(&sig.ID, &source, &occurredAt, &sig.Subject, &body, &rawSeverity,
		&severity, &sig.IsRead, &status, &tags); err != nil {
		return signal.Signal{}, fmt.Errorf("scan ops_signals row: %w", err)
	}
	sig.Source = signal.Source(source)
	sig.Timestamp = occurredAt.UTC()
	sig.CalculatedSeverity = signal.Severity(severity)
	sig.Status = signal.Status(status)
	if body != nil {
		sig.Body = *body
	}
	if rawSeverity != nil {
		sig.RawSeverity = *rawSeverity
	}
	if tags == nil {
		tags = []string{}
	}
	sig.Tags = tags
	return sig, nil
}
