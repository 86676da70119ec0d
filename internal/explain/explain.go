// Package explain samples representative execution plans for the observed
// constant bindings of a qual group.
package explain

import (
	"context"
	"strings"

	"github.com/koltyakov/pgqual/internal/stats"
)

// NoPlan is the sentinel plan text recorded when EXPLAIN fails for a
// sample. Displaying partial results beats aborting the batch, so every
// failure degrades to this per-sample.
const NoPlan = "N/A"

// Explainer runs EXPLAIN for a query against a named database, returning
// the plan as ordered lines of text. An empty database name means the
// current one.
type Explainer interface {
	Explain(ctx context.Context, database, query string) ([]string, error)
}

// Plan is one sampled representative plan: the ranking criterion it
// represents, the constants substituted, the final query text and the plan
// obtained for it. When EXPLAIN failed, Plan holds the NoPlan sentinel and
// Err records the cause.
type Plan struct {
	Title       string   `json:"title"`
	Values      []string `json:"values"`
	Query       string   `json:"query"`
	Plan        string   `json:"plan"`
	FilterRatio float64  `json:"filter_ratio"`
	ExecCount   float64  `json:"exec_count"`
	Err         error    `json:"-"`
}

// FormatJumbledQuery substitutes constants positionally for the `?`
// placeholders of a normalized query. Substitution stops when the
// constants run out; remaining placeholders are left untouched.
func FormatJumbledQuery(sql string, constants []string) string {
	var b strings.Builder
	b.Grow(len(sql))
	next := 0
	for _, r := range sql {
		if r == '?' && next < len(constants) {
			b.WriteString(constants[next])
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetPlans samples one plan per ranking criterion from the figures row,
// substituting each criterion's constants into the jumbled query and
// running EXPLAIN against the named database. A failing EXPLAIN never
// aborts the batch: the affected sample carries the NoPlan sentinel.
func GetPlans(ctx context.Context, ex Explainer, query, database string, figures *stats.FiguresRow) []Plan {
	plans := make([]Plan, 0, 3)
	for _, criterion := range stats.Criteria() {
		sample, ok := figures.SampleByCriterion(criterion)
		if !ok {
			continue
		}
		substituted := FormatJumbledQuery(query, sample.Constants)
		plan := Plan{
			Title:       stats.Titles[criterion],
			Values:      sample.Constants,
			Query:       substituted,
			Plan:        NoPlan,
			FilterRatio: sample.FilterRatio,
			ExecCount:   sample.Count,
		}
		lines, err := ex.Explain(ctx, database, substituted)
		if err != nil {
			plan.Err = err
		} else {
			plan.Plan = strings.Join(lines, "\n")
		}
		plans = append(plans, plan)
	}
	return plans
}
