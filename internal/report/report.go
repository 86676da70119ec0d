// Package report renders an analysis as plain text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/koltyakov/pgqual/internal/analyze"
	"github.com/koltyakov/pgqual/internal/explain"
)

// Meta contains metadata about the analysis run.
type Meta struct {
	// StartedAt is when the analysis started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the analysis took.
	Duration time.Duration `json:"duration"`

	// Version is the pgqual version that generated the report.
	Version string `json:"version"`
}

// WriteText writes the plain-text report to path. "-" or an empty path
// means stdout.
func WriteText(path string, a *analyze.Analysis, meta Meta) error {
	return write(path, func(w io.Writer) error {
		return renderText(w, a, meta)
	})
}

// WriteJSON writes the report as indented JSON to path. "-" or an empty
// path means stdout.
func WriteJSON(path string, a *analyze.Analysis, meta Meta) error {
	return write(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Meta Meta `json:"meta"`
			*analyze.Analysis
		}{Meta: meta, Analysis: a})
	})
}

func write(path string, render func(io.Writer) error) error {
	if path == "" || path == "-" {
		return render(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderText(w io.Writer, a *analyze.Analysis, meta Meta) error {
	p := &printer{w: w}

	p.printf("pgqual %s — database %s\n", meta.Version, a.Database)
	p.printf("generated %s in %s\n", meta.StartedAt.Format(time.RFC3339), meta.Duration.Truncate(time.Millisecond))
	p.printf("\nQuery:\n  %s\n", a.Query)

	for _, cq := range a.Quals {
		p.printf("\n%s.%s  %s\n", cq.Nspname, cq.Relname, cq.WhereClause())
		p.printf("  executions: %.0f  filtered: %.0f  filter ratio: %.3f  live rows: %d\n",
			cq.Count, cq.Nbfiltered, cq.FilterRatio, cq.TableLiverows)
		for _, q := range cq.Quals() {
			p.printf("  - %s  [ams: %s]  distinct: %s  null frac: %.3f\n",
				q.String(), strings.Join(q.IndexAmNames, ","), q.DistinctValues(), q.NullFrac)
		}
	}

	if len(a.Plans) > 0 {
		p.printf("\nRepresentative plans:\n")
		for _, plan := range a.Plans {
			p.printf("\n[%s]  constants: %s  executions: %.0f  filter ratio: %.3f\n",
				plan.Title, strings.Join(plan.Values, ", "), plan.ExecCount, plan.FilterRatio)
			p.printf("  %s\n", plan.Query)
			if plan.Plan == explain.NoPlan {
				p.printf("  plan: %s\n", explain.NoPlan)
			} else {
				p.printf("%s\n", indent(plan.Plan, "  "))
			}
		}
	}

	if len(a.Indexes) > 0 {
		p.printf("\nCandidate indexes:\n")
		for _, ix := range a.Indexes {
			if ddl := ix.DDL(); ddl != "" {
				p.printf("  [%s] %s\n", ix.AmName, ddl)
			} else {
				p.printf("  [%s] on %s.%s (no DDL support)\n", ix.AmName, ix.Nspname, ix.Relname)
			}
		}
	}

	if hp := a.HypoPlan; hp != nil {
		p.printf("\nHypothetical evaluation:\n")
		p.printf("  base cost: %.2f  hypothetical cost: %.2f  gain: %.2f%%\n",
			hp.Basecost, hp.Hypocost, hp.GainPercent())
		for _, ix := range hp.Indexes {
			p.printf("  used: %s\n", ix.Name)
		}
		p.printf("\n%s\n", indent(hp.Hypoplan, "  "))
	}

	return p.err
}

// printer accumulates the first write error so rendering reads linearly.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
