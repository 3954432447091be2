package pgsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

// fakeRows is an in-memory pgx.Rows over pre-built column values.
type fakeRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d dest for %d columns", len(dest), len(row))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case *[]string:
			if v == nil {
				*d = nil
			} else {
				*d = v.([]string)
			}
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

var when = time.Date(2026, 3, 1, 11, 55, 0, 0, time.FixedZone("CET", 3600))

func row(id, severity string, body any, tags any) []any {
	return []any{id, "GLPI", when, "subject " + id, body, "High", severity, false, "Open", tags}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{rows: &fakeRows{data: [][]any{
		row("sig-001", "P1", "cpu high", []string{"Database"}),
		row("sig-002", "P3", nil, nil),
	}}}

	got, err := New(q).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(q.sql, "FROM ops_signals") {
		t.Errorf("query = %q", q.sql)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Body != "cpu high" || got[0].CalculatedSeverity != signal.SeverityP1 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[0].Timestamp.Location() != time.UTC || !got[0].Timestamp.Equal(when) {
		t.Errorf("timestamp = %v, want %v in UTC", got[0].Timestamp, when)
	}
	if got[1].Body != "" || got[1].Tags == nil {
		t.Errorf("got[1] = %+v, want empty body and non-nil tags", got[1])
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		q    *fakeQuerier
		want string
	}{
		{
			name: "query error",
			q:    &fakeQuerier{err: errors.New("relation does not exist")},
			want: "query ops_signals",
		},
		{
			name: "invalid severity",
			q:    &fakeQuerier{rows: &fakeRows{data: [][]any{row("a", "P0", nil, nil)}}},
			want: "calculated severity",
		},
		{
			name: "duplicate id",
			q: &fakeQuerier{rows: &fakeRows{data: [][]any{
				row("a", "P1", nil, nil),
				row("a", "P2", nil, nil),
			}}},
			want: "duplicate",
		},
		{
			name: "iteration error",
			q:    &fakeQuerier{rows: &fakeRows{err: errors.New("conn reset")}},
			want: "iterate ops_signals",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.q).Load(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}
