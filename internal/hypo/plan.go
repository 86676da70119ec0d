package hypo

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// HypoPlan is the evaluation of a query with and without hypothetical
// indexes: both plan texts, both estimated costs, and the proposed indexes
// the planner actually used.
type HypoPlan struct {
	Baseplan string       `json:"baseplan"`
	Basecost float64      `json:"basecost"`
	Hypoplan string       `json:"hypoplan"`
	Hypocost float64      `json:"hypocost"`
	Query    string       `json:"query"`
	Indexes  []*HypoIndex `json:"indexes"`
}

// GainPercent is the estimated planner cost reduction, as a percentage of
// the baseline cost, rounded to two decimals. Computed on call.
func (p *HypoPlan) GainPercent() float64 {
	return math.Round((100-p.Hypocost*100/p.Basecost)*100) / 100
}

// costRE extracts the first total-cost token of a rendered plan: the
// digits.digits immediately following "..". Plan text is otherwise treated
// as opaque.
var costRE = regexp.MustCompile(`\.\.(\d+\.\d+)`)

// extractCost pattern-matches the estimated total cost out of a plan text.
func extractCost(plan string) (float64, error) {
	m := costRE.FindStringSubmatch(plan)
	if m == nil {
		return 0, fmt.Errorf("%w: %.60q", qerrors.ErrNoCost, plan)
	}
	cost, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse cost %q: %w", m[1], err)
	}
	return cost, nil
}

// GetHypoPlans explains the query twice inside one transaction, first with
// hypopg disabled and then enabled, so the second plan may use the
// hypothetical indexes already created in this session. The hypopg.enabled
// flag is session-local; no cross-session coordination is needed.
//
// The supplied indexes must already be created and named; any whose name
// appears in the hypothetical plan text is reported as used.
func GetHypoPlans(ctx context.Context, b db.Beginner, query string, indexes []*HypoIndex) (*HypoPlan, error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	baseplan, err := explainInTx(ctx, tx, "SET hypopg.enabled = off", query)
	if err != nil {
		return nil, err
	}
	hypoplan, err := explainInTx(ctx, tx, "SET hypopg.enabled = on", query)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	basecost, err := extractCost(baseplan)
	if err != nil {
		return nil, fmt.Errorf("baseline plan: %w", err)
	}
	hypocost, err := extractCost(hypoplan)
	if err != nil {
		return nil, fmt.Errorf("hypothetical plan: %w", err)
	}

	var used []*HypoIndex
	for _, ix := range indexes {
		if ix.Name == "" {
			continue
		}
		if strings.Contains(hypoplan, ix.Name) {
			used = append(used, ix)
		}
	}

	return &HypoPlan{
		Baseplan: baseplan,
		Basecost: basecost,
		Hypoplan: hypoplan,
		Hypocost: hypocost,
		Query:    query,
		Indexes:  used,
	}, nil
}

// explainInTx toggles the hypopg flag and explains the query on the same
// transaction, returning the plan lines joined as one text.
func explainInTx(ctx context.Context, tx db.Tx, toggle, query string) (string, error) {
	if err := tx.Exec(ctx, toggle); err != nil {
		return "", qerrors.NewQueryError(toggle, err)
	}
	rows, err := tx.Query(ctx, "EXPLAIN "+query)
	if err != nil {
		return "", qerrors.NewQueryError("EXPLAIN "+query, err)
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("scan plan line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", qerrors.NewQueryError("EXPLAIN "+query, err)
	}
	return strings.Join(lines, "\n"), nil
}
