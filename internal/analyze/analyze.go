// Package analyze drives one predicate analysis pass end to end.
//
// A pass fetches the ranked constant-sample figures for a qual group,
// resolves the group's predicates against the system catalogs, samples
// representative plans, proposes candidate indexes and, when requested,
// measures their benefit with hypothetical indexes in the target database.
package analyze

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
	"github.com/koltyakov/pgqual/internal/explain"
	"github.com/koltyakov/pgqual/internal/hypo"
	"github.com/koltyakov/pgqual/internal/qual"
	"github.com/koltyakov/pgqual/internal/stats"
)

// Options configures one analysis pass.
type Options struct {
	// Database is the database the quals were observed in. Figures are
	// filtered to it and plans are sampled against it.
	Database string

	// From and To bound the statistics window.
	From time.Time
	To   time.Time

	// Queries optionally restricts to specific query identifiers.
	Queries []int64

	// Quals optionally restricts to specific qual-group identifiers.
	Quals []int64

	// Top is the number of constant samples per ranking.
	Top int

	// Hypothetical enables hypothetical-index evaluation in the target
	// database. Requires the hypopg extension there.
	Hypothetical bool
}

// Validate checks that the options describe a runnable pass.
func (o Options) Validate() error {
	if o.Database == "" {
		return qerrors.NewValidationError("database", "", "target database name is required")
	}
	if !o.From.Before(o.To) {
		return qerrors.NewValidationError("time range", "", "start must precede end")
	}
	return nil
}

// Target is the session hypothetical-index work runs in. Hypothetical
// indexes only exist in the session that created them, so creation and the
// two EXPLAIN calls must share it.
type Target interface {
	db.Queryer
	db.Beginner
}

// Deps are the external collaborators of a pass.
type Deps struct {
	// Stats queries the database holding the statistics tables.
	Stats db.Queryer

	// Explainer samples plans against named databases, typically a
	// db.Cluster.
	Explainer explain.Explainer

	// AcquireTarget opens (or reuses) the session used for hypothetical
	// evaluation against the named database. Only consulted when
	// Options.Hypothetical is set.
	AcquireTarget func(ctx context.Context, database string) (Target, error)

	// Logger receives progress events. Nil means no logging.
	Logger *zap.Logger
}

// Analysis is the outcome of one pass.
type Analysis struct {
	Database string               `json:"database"`
	Query    string               `json:"query"`
	Quals    []*qual.ComposedQual `json:"quals"`
	Plans    []explain.Plan       `json:"plans"`
	Indexes  []*hypo.HypoIndex    `json:"indexes"`
	HypoPlan *hypo.HypoPlan       `json:"hypoplan,omitempty"`
}

// Run executes one analysis pass. ErrNoData passes through untouched when
// nothing overlaps the requested window, so callers can treat it as an
// empty result rather than a failure.
func Run(ctx context.Context, deps Deps, opts Options) (*Analysis, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	figures, err := stats.GetFigures(ctx, deps.Stats, stats.Options{
		Database: opts.Database,
		From:     opts.From,
		To:       opts.To,
		Queries:  opts.Queries,
		Quals:    opts.Quals,
		Top:      opts.Top,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("fetched qual figures",
		zap.String("database", opts.Database),
		zap.Int64("qualid", figures.MostExecuted.Qualid),
		zap.Int("quals", len(figures.Quals)))

	composed, err := qual.ResolveQuals(ctx, deps.Stats, []qual.StatRow{figures.StatRow()})
	if err != nil {
		return nil, fmt.Errorf("resolve quals: %w", err)
	}

	analysis := &Analysis{
		Database: opts.Database,
		Query:    figures.Query,
		Quals:    composed,
	}

	analysis.Plans = explain.GetPlans(ctx, deps.Explainer, figures.Query, opts.Database, figures)
	for _, p := range analysis.Plans {
		if p.Err != nil {
			log.Warn("plan sampling failed",
				zap.String("criterion", p.Title),
				zap.Error(p.Err))
		}
	}

	for _, cq := range composed {
		analysis.Indexes = append(analysis.Indexes, hypo.PossibleIndexes(cq)...)
	}
	log.Debug("proposed candidate indexes", zap.Int("count", len(analysis.Indexes)))

	if opts.Hypothetical && len(analysis.Indexes) > 0 {
		hp, err := evaluateHypothetical(ctx, deps, opts.Database, figures, analysis.Indexes)
		if err != nil {
			return nil, fmt.Errorf("hypothetical evaluation: %w", err)
		}
		analysis.HypoPlan = hp
		if hp != nil {
			log.Info("hypothetical evaluation done",
				zap.Float64("gain_percent", hp.GainPercent()),
				zap.Int("used_indexes", len(hp.Indexes)))
		}
	}

	return analysis, nil
}

// evaluateHypothetical creates the DDL-capable candidates as hypothetical
// indexes in the target database and explains the most-executed sample's
// query with and without them. Returns nil when no candidate could be
// created.
func evaluateHypothetical(ctx context.Context, deps Deps, database string, figures *stats.FiguresRow, indexes []*hypo.HypoIndex) (*hypo.HypoPlan, error) {
	session, err := deps.AcquireTarget(ctx, database)
	if err != nil {
		return nil, err
	}
	created, err := hypo.CreateHypotheticalIndexes(ctx, session, indexes)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, nil
	}
	query := explain.FormatJumbledQuery(figures.Query, figures.MostExecuted.Constants)
	return hypo.GetHypoPlans(ctx, session, query, created)
}
