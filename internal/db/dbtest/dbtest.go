// Package dbtest provides in-memory fakes over the db interfaces so the
// analysis packages can be tested without a PostgreSQL server.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/koltyakov/pgqual/internal/db"
)

// Call records one statement issued against the fake.
type Call struct {
	SQL  string
	Args []any
}

// Result is one canned query result: rows of column values, or an error.
type Result struct {
	Rows [][]any
	Err  error
}

// Fake implements db.Queryer, db.Execer and db.Beginner, recording every
// statement and serving canned results.
//
// Results are matched by QueryFunc when set, otherwise consumed from
// Results in order. An exhausted fake serves empty row sets. Transactions
// opened via Begin record into the same Fake.
type Fake struct {
	Queries []Call
	Execs   []Call

	Results   []Result
	QueryFunc func(sql string, args []any) Result
	ExecErr   error
	BeginErr  error

	Begun      int
	Committed  int
	RolledBack int
}

var (
	_ db.Queryer  = (*Fake)(nil)
	_ db.Execer   = (*Fake)(nil)
	_ db.Beginner = (*Fake)(nil)
)

func (f *Fake) Query(_ context.Context, sql string, args ...any) (db.Rows, error) {
	f.Queries = append(f.Queries, Call{SQL: sql, Args: args})
	res := f.nextResult(sql, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rowsIter{rows: res.Rows, pos: -1}, nil
}

func (f *Fake) Exec(_ context.Context, sql string, args ...any) error {
	f.Execs = append(f.Execs, Call{SQL: sql, Args: args})
	return f.ExecErr
}

func (f *Fake) Begin(context.Context) (db.Tx, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.Begun++
	return &fakeTx{f: f}, nil
}

func (f *Fake) nextResult(sql string, args []any) Result {
	if f.QueryFunc != nil {
		return f.QueryFunc(sql, args)
	}
	if len(f.Results) == 0 {
		return Result{}
	}
	res := f.Results[0]
	f.Results = f.Results[1:]
	return res
}

// QueriesMatching returns the recorded queries containing the substring.
func (f *Fake) QueriesMatching(substr string) []Call {
	var out []Call
	for _, c := range f.Queries {
		if strings.Contains(c.SQL, substr) {
			out = append(out, c)
		}
	}
	return out
}

type fakeTx struct {
	f *Fake
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	return t.f.Query(ctx, sql, args...)
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) error {
	return t.f.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.f.Committed++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.f.RolledBack++
	return nil
}

// rowsIter implements db.Rows over canned values.
type rowsIter struct {
	rows [][]any
	pos  int
}

func (r *rowsIter) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *rowsIter) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return fmt.Errorf("dbtest: Scan called without Next")
	}
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("dbtest: scanning %d values into %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

func (r *rowsIter) Err() error { return nil }
func (r *rowsIter) Close()     {}

// assign copies src into the pointer dst, converting compatible types and
// mapping nil onto a zero value, as drivers do for nullable columns.
func assign(dst, src any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dst)
	}
	elem := dv.Elem()
	if src == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	if elem.Kind() == reflect.Pointer {
		p := reflect.New(elem.Type().Elem())
		if err := assign(p.Interface(), src); err != nil {
			return err
		}
		elem.Set(p)
		return nil
	}
	sv := reflect.ValueOf(src)
	if !sv.Type().ConvertibleTo(elem.Type()) {
		return fmt.Errorf("cannot assign %T to %s", src, elem.Type())
	}
	elem.Set(sv.Convert(elem.Type()))
	return nil
}
