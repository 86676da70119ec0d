package hypo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koltyakov/pgqual/internal/db/dbtest"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// TestGainPercent verifies the derived cost-reduction metric.
func TestGainPercent(t *testing.T) {
	tests := []struct {
		basecost, hypocost, expected float64
	}{
		{100, 80, 20},
		{100, 100, 0},
		{100, 25, 75},
		{35.50, 8.31, 76.59},
		{100, 120, -20},
	}

	for _, tt := range tests {
		p := &HypoPlan{Basecost: tt.basecost, Hypocost: tt.hypocost}
		if got := p.GainPercent(); got != tt.expected {
			t.Errorf("GainPercent() with base=%v hypo=%v = %v, expected %v",
				tt.basecost, tt.hypocost, got, tt.expected)
		}
	}
}

func TestExtractCost(t *testing.T) {
	plan := "Seq Scan on t  (cost=0.00..35.50 rows=10 width=4)\n  Filter: (a = 1)"
	cost, err := extractCost(plan)
	require.NoError(t, err)
	require.Equal(t, 35.50, cost)
}

func TestExtractCostMissing(t *testing.T) {
	_, err := extractCost("something that is not a plan")
	require.ErrorIs(t, err, qerrors.ErrNoCost)
}

func TestGetHypoPlans(t *testing.T) {
	baseplan := "Seq Scan on orders  (cost=0.00..3500.00 rows=1000 width=47)"
	hypoplan := "Index Scan using <13543>btree_orders_customer_id on orders  (cost=0.04..175.00 rows=1000 width=47)"

	// the fake serves the baseline plan while one toggle has run and the
	// hypothetical plan once the second toggle enabled hypopg
	fake := &dbtest.Fake{}
	fake.QueryFunc = func(string, []any) dbtest.Result {
		line := baseplan
		if len(fake.Execs) == 2 {
			line = hypoplan
		}
		return dbtest.Result{Rows: [][]any{{line}}}
	}

	used := &HypoIndex{AmName: "btree", Name: "<13543>btree_orders_customer_id"}
	unused := &HypoIndex{AmName: "btree", Name: "<13544>btree_orders_status"}
	unnamed := &HypoIndex{AmName: "brin"}

	plan, err := GetHypoPlans(context.Background(), fake,
		"SELECT * FROM orders WHERE customer_id = 42",
		[]*HypoIndex{used, unused, unnamed})
	require.NoError(t, err)

	require.Equal(t, 1, fake.Begun, "both EXPLAINs must share one transaction")
	require.Equal(t, 1, fake.Committed)

	// the toggles bracket the two EXPLAIN calls
	require.Len(t, fake.Execs, 2)
	require.Equal(t, "SET hypopg.enabled = off", fake.Execs[0].SQL)
	require.Equal(t, "SET hypopg.enabled = on", fake.Execs[1].SQL)

	require.Equal(t, baseplan, plan.Baseplan)
	require.Equal(t, hypoplan, plan.Hypoplan)
	require.Equal(t, 3500.00, plan.Basecost)
	require.Equal(t, 175.00, plan.Hypocost)
	require.Equal(t, 95.0, plan.GainPercent())

	require.Len(t, plan.Indexes, 1, "only named indexes present in the plan text count as used")
	require.Same(t, used, plan.Indexes[0])
}

func TestGetHypoPlansNoCost(t *testing.T) {
	fake := &dbtest.Fake{
		QueryFunc: func(string, []any) dbtest.Result {
			return dbtest.Result{Rows: [][]any{{"not a plan"}}}
		},
	}
	_, err := GetHypoPlans(context.Background(), fake, "SELECT 1", nil)
	require.ErrorIs(t, err, qerrors.ErrNoCost)
}
