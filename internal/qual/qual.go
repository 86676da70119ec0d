// Package qual models observed query predicates.
//
// A ResolvedQual is one column/operator comparison with the planner
// statistics of its column. A ComposedQual is the conjunction of the
// ResolvedQuals observed together as one WHERE clause, with execution
// counts and filtering figures for the whole clause. Both are built once
// per analysis pass by ResolveQuals and not mutated afterwards.
package qual

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// ResolvedQual is one fully-named predicate instance.
type ResolvedQual struct {
	Nspname          string   `json:"nspname"`
	Relname          string   `json:"relname"`
	Attname          string   `json:"attname"`
	Opname           string   `json:"opname"`
	IndexAmNames     []string `json:"indexam_names"`
	NDistinct        float64  `json:"n_distinct"`
	MostCommonValues []any    `json:"most_common_values"`
	NullFrac         float64  `json:"null_frac"`
	ExampleValues    []string `json:"example_values"`
	EvalType         string   `json:"eval_type"`
}

// String renders the predicate with a placeholder constant.
func (q *ResolvedQual) String() string {
	return fmt.Sprintf("%s.%s %s ?", q.Relname, q.Attname, q.Opname)
}

// DistinctValues renders the distinctness estimate. A positive n_distinct
// is an approximate distinct count; a negative one is minus the fraction
// of rows, rendered as a percentage.
func (q *ResolvedQual) DistinctValues() string {
	if q.NDistinct > 0 {
		return strconv.FormatFloat(q.NDistinct, 'f', -1, 64)
	}
	return fmt.Sprintf("%.1f %%", math.Abs(q.NDistinct)*100)
}

// ComposedQual is a conjunction of ResolvedQuals targeting one relation.
//
// The relation context is established by the first appended part; every
// later part must reference the same relation, which guards against
// silently mixing predicates from different tables inside one supposed
// conjunction. Such a mix indicates a bug in whatever produced the rows.
type ComposedQual struct {
	Qualid        int64
	Nspname       string
	Relname       string
	Nbfiltered    float64
	FilterRatio   float64
	Count         float64
	TableLiverows int64

	quals []*ResolvedQual
}

// Append adds one resolved part, establishing the relation context on the
// first call and validating it on every later one.
func (c *ComposedQual) Append(q *ResolvedQual) error {
	if c.Relname != "" && c.Relname != q.Relname {
		return qerrors.NewValidationError("qual relation", q.Relname,
			fmt.Sprintf("all parts of a composed qual must target relation %q", c.Relname))
	}
	if c.Relname == "" {
		c.Relname = q.Relname
		c.Nspname = q.Nspname
	}
	c.quals = append(c.quals, q)
	return nil
}

// Quals returns the ordered parts.
func (c *ComposedQual) Quals() []*ResolvedQual {
	return c.quals
}

// String renders the conjunction.
func (c *ComposedQual) String() string {
	parts := make([]string, len(c.quals))
	for i, q := range c.quals {
		parts[i] = q.String()
	}
	return strings.Join(parts, " AND ")
}

// WhereClause renders the conjunction as a WHERE clause.
func (c *ComposedQual) WhereClause() string {
	return "WHERE " + c.String()
}

// MarshalJSON includes the parts and the derived WHERE clause.
func (c *ComposedQual) MarshalJSON() ([]byte, error) {
	quals := c.quals
	if quals == nil {
		quals = []*ResolvedQual{}
	}
	return json.Marshal(map[string]any{
		"qualid":         c.Qualid,
		"nspname":        c.Nspname,
		"relname":        c.Relname,
		"nbfiltered":     c.Nbfiltered,
		"filter_ratio":   c.FilterRatio,
		"count":          c.Count,
		"table_liverows": c.TableLiverows,
		"quals":          quals,
		"where_clause":   c.WhereClause(),
	})
}

// Ratio computes nbfiltered/count, defined as exactly 0 for zero count so
// a never-executed qual group cannot fault the aggregation.
func Ratio(nbfiltered, count float64) float64 {
	if count == 0 {
		return 0
	}
	return nbfiltered / count
}
