package analyze

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koltyakov/pgqual/internal/db/dbtest"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// statsFake serves the figures row and the two catalog resolutions the
// pass issues against the statistics connection.
func statsFake() *dbtest.Fake {
	quals := `[{"opno":"96","relid":"16384","attnum":1,"eval_type":"f"}]`
	mf := `{"query":"SELECT * FROM orders WHERE customer_id = ?","queryid":123,"qualid":7,"constants":["42"],"nbfiltered":900,"count":1000,"filter_ratio":0.9,"rownumber":1}`
	lf := `{"query":"SELECT * FROM orders WHERE customer_id = ?","queryid":123,"qualid":7,"constants":["1"],"nbfiltered":10,"count":500,"filter_ratio":0.02,"rownumber":1}`
	me := `{"query":"SELECT * FROM orders WHERE customer_id = ?","queryid":123,"qualid":7,"constants":["7"],"nbfiltered":400,"count":2000,"filter_ratio":0.2,"rownumber":1}`

	return &dbtest.Fake{
		QueryFunc: func(sql string, _ []any) dbtest.Result {
			switch {
			case strings.Contains(sql, "powa_statements"):
				return dbtest.Result{Rows: [][]any{
					{quals, "SELECT * FROM orders WHERE customer_id = ?", mf, lf, me},
				}}
			case strings.Contains(sql, "pg_operator"):
				return dbtest.Result{Rows: [][]any{
					{uint32(96), "=", []uint32{403}, []string{"btree"}},
				}}
			default: // attribute resolution
				return dbtest.Result{Rows: [][]any{
					{uint32(16384), int16(1), "orders", "customer_id", "public",
						float64(250), float64(0.01), nil, int64(100000)},
				}}
			}
		},
	}
}

type fakeExplainer struct {
	calls int
}

func (f *fakeExplainer) Explain(context.Context, string, string) ([]string, error) {
	f.calls++
	return []string{"Seq Scan on orders  (cost=0.00..3500.00 rows=1000 width=47)"}, nil
}

func testOptions() Options {
	return Options{
		Database: "mydb",
		From:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		Top:      1,
	}
}

func TestRun(t *testing.T) {
	stats := statsFake()
	ex := &fakeExplainer{}
	deps := Deps{Stats: stats, Explainer: ex}

	a, err := Run(context.Background(), deps, testOptions())
	require.NoError(t, err)

	require.Equal(t, "mydb", a.Database)
	require.Len(t, a.Quals, 1)
	require.Equal(t, "WHERE orders.customer_id = ?", a.Quals[0].WhereClause())
	require.Len(t, a.Plans, 3)
	require.Equal(t, 3, ex.calls)
	require.Len(t, a.Indexes, 1)
	require.Equal(t, "btree", a.Indexes[0].AmName)
	require.Nil(t, a.HypoPlan, "hypothetical evaluation is off by default")
}

func TestRunHypothetical(t *testing.T) {
	stats := statsFake()
	ex := &fakeExplainer{}

	hypoplan := "Index Scan using <13543>btree_orders_customer_id on orders  (cost=0.04..175.00 rows=1000 width=47)"
	target := &dbtest.Fake{}
	target.QueryFunc = func(sql string, _ []any) dbtest.Result {
		if strings.Contains(sql, "hypopg_create_index") {
			return dbtest.Result{Rows: [][]any{{"<13543>btree_orders_customer_id"}}}
		}
		line := "Seq Scan on orders  (cost=0.00..3500.00 rows=1000 width=47)"
		if len(target.Execs) == 2 {
			line = hypoplan
		}
		return dbtest.Result{Rows: [][]any{{line}}}
	}

	deps := Deps{
		Stats:     stats,
		Explainer: ex,
		AcquireTarget: func(context.Context, string) (Target, error) {
			return target, nil
		},
	}
	opts := testOptions()
	opts.Hypothetical = true

	a, err := Run(context.Background(), deps, opts)
	require.NoError(t, err)
	require.NotNil(t, a.HypoPlan)
	require.Equal(t, 95.0, a.HypoPlan.GainPercent())
	require.Len(t, a.HypoPlan.Indexes, 1)

	// the most-executed sample's constants drive the evaluated query
	require.Equal(t, "SELECT * FROM orders WHERE customer_id = 7", a.HypoPlan.Query)
}

func TestRunNoData(t *testing.T) {
	deps := Deps{Stats: &dbtest.Fake{}, Explainer: &fakeExplainer{}}
	_, err := Run(context.Background(), deps, testOptions())
	require.ErrorIs(t, err, qerrors.ErrNoData)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Options)
		expectErr bool
	}{
		{"valid", func(*Options) {}, false},
		{"missing database", func(o *Options) { o.Database = "" }, true},
		{"inverted range", func(o *Options) { o.From, o.To = o.To, o.From }, true},
		{"empty range", func(o *Options) { o.To = o.From }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Validate() error = %v, expectErr = %v", err, tt.expectErr)
			}
		})
	}
}
