package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koltyakov/pgqual/internal/analyze"
	"github.com/koltyakov/pgqual/internal/explain"
	"github.com/koltyakov/pgqual/internal/hypo"
	"github.com/koltyakov/pgqual/internal/qual"
)

func sampleAnalysis(t *testing.T) *analyze.Analysis {
	t.Helper()
	cq := &qual.ComposedQual{Qualid: 7, Count: 1000, Nbfiltered: 400, FilterRatio: 0.4, TableLiverows: 100000}
	require.NoError(t, cq.Append(&qual.ResolvedQual{
		Nspname: "public", Relname: "orders", Attname: "customer_id",
		Opname: "=", IndexAmNames: []string{"btree"}, NDistinct: 250,
	}))

	ix := &hypo.HypoIndex{Nspname: "public", Relname: "orders", AmName: "btree",
		Quals: cq.Quals(), Name: "<13543>btree_orders_customer_id"}

	return &analyze.Analysis{
		Database: "mydb",
		Query:    "SELECT * FROM orders WHERE customer_id = ?",
		Quals:    []*qual.ComposedQual{cq},
		Plans: []explain.Plan{
			{Title: "most filtering", Values: []string{"42"},
				Query: "SELECT * FROM orders WHERE customer_id = 42",
				Plan:  "Seq Scan on orders  (cost=0.00..3500.00 rows=1000 width=47)"},
			{Title: "least filtering", Values: []string{"1"},
				Query: "SELECT * FROM orders WHERE customer_id = 1",
				Plan:  explain.NoPlan},
		},
		Indexes: []*hypo.HypoIndex{ix},
		HypoPlan: &hypo.HypoPlan{
			Basecost: 3500, Hypocost: 175,
			Hypoplan: "Index Scan using <13543>btree_orders_customer_id on orders",
			Indexes:  []*hypo.HypoIndex{ix},
		},
	}
}

func testMeta() Meta {
	return Meta{
		StartedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Version:   "0.1.0",
	}
}

func TestWriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, WriteText(path, sampleAnalysis(t), testMeta()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	require.Contains(t, out, "database mydb")
	require.Contains(t, out, "WHERE orders.customer_id = ?")
	require.Contains(t, out, `CREATE INDEX ON "public"."orders"("customer_id")`)
	require.Contains(t, out, "gain: 95.00%")
	require.Contains(t, out, "plan: N/A")
	require.Contains(t, out, "distinct: 250")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(path, sampleAnalysis(t), testMeta()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "mydb", decoded["database"])

	quals, ok := decoded["quals"].([]any)
	require.True(t, ok)
	require.Len(t, quals, 1)
	first, ok := quals[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "WHERE orders.customer_id = ?", first["where_clause"])

	meta, ok := decoded["meta"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0.1.0", meta["version"])
}

func TestWriteTextBadPath(t *testing.T) {
	err := WriteText(filepath.Join(t.TempDir(), "missing", "report.txt"), sampleAnalysis(t), testMeta())
	require.Error(t, err)
}

func TestIndent(t *testing.T) {
	got := indent("a\nb", "  ")
	if !strings.HasPrefix(got, "  a") || !strings.Contains(got, "\n  b") {
		t.Errorf("indent() = %q", got)
	}
}
