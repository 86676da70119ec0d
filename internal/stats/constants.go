// Package stats builds and runs the ranking queries over the predicate
// statistics gathered by the pg_qualstats extension.
//
// For one qual group, the observed constant-value bindings are ranked three
// ways (most executed, least filtering, most filtering); the rankings are
// then joined row-by-row so that row i of each ranking can be displayed
// side by side as one comparison triple.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
	"github.com/koltyakov/pgqual/internal/qual"
)

// Ranking criteria for constant samples.
const (
	MostExecuted   = "most_executed"
	LeastFiltering = "least_filtering"
	MostFiltering  = "most_filtering"
)

// criterionOrder maps each criterion to its ORDER BY clause inside the
// sampling sub-query; positions refer to the sample columns (4 = count,
// 6 = filter_ratio).
var criterionOrder = map[string]string{
	MostExecuted:   "4 DESC",
	LeastFiltering: "6",
	MostFiltering:  "6 DESC",
}

// Condition is a pre-built boolean SQL fragment with its bind arguments.
// The fragment may be embedded several times in one statement; its
// placeholders keep their positions, so the arguments bind once.
type Condition struct {
	SQL  string
	Args []any
}

// Options selects the statistics window for GetFigures.
type Options struct {
	Database string
	From     time.Time
	To       time.Time
	Queries  []int64 // optional query identifiers to restrict to
	Quals    []int64 // optional qual-group identifiers to restrict to
	Top      int     // samples per ranking, minimum 1
}

// condition builds the filter fragment: database, required time-range
// overlap against the stats' own coverage interval, optional identifier
// restrictions.
func (o Options) condition() Condition {
	cond := Condition{
		SQL:  "datname = $1 AND coalesce_range && tstzrange($2, $3)",
		Args: []any{o.Database, o.From, o.To},
	}
	if len(o.Queries) > 0 {
		cond = Condition{
			SQL:  cond.SQL + fmt.Sprintf(" AND s.queryid = ANY($%d::bigint[])", len(cond.Args)+1),
			Args: append(cond.Args, o.Queries),
		}
	}
	if len(o.Quals) > 0 {
		cond = Condition{
			SQL:  cond.SQL + fmt.Sprintf(" AND qn.qualid = ANY($%d::bigint[])", len(cond.Args)+1),
			Args: append(cond.Args, o.Quals),
		}
	}
	return cond
}

// QualConstants renders the ranking sub-query for one criterion as an
// aliased SQL fragment. The sample set is selected by the criterion's own
// ordering; the final row numbering is always by descending count so the
// three rankings align row-by-row. The fragment binds the condition's
// arguments plus the top limit as the next positional argument.
func QualConstants(criterion string, cond Condition, top int) (string, error) {
	order, ok := criterionOrder[criterion]
	if !ok {
		return "", qerrors.NewValidationError("ranking criterion", criterion,
			"must be one of most_executed, least_filtering, most_filtering")
	}
	if top < 1 {
		top = 1
	}
	topArg := fmt.Sprintf("$%d", len(cond.Args)+1)
	sql := fmt.Sprintf(`(
    WITH sample AS (
    SELECT query, s.queryid, qn.qualid, quals,
                constants,
                sum(count) AS count,
                sum(nbfiltered) AS nbfiltered,
                CASE WHEN sum(count) = 0 THEN 0 ELSE sum(nbfiltered) / sum(count) END AS filter_ratio
        FROM powa_statements s
        JOIN pg_database ON pg_database.oid = s.dbid
        JOIN powa_qualstats_quals qn ON s.queryid = qn.queryid
        JOIN (
            SELECT *
            FROM powa_qualstats_constvalues_history
            UNION ALL
            SELECT *
            FROM powa_qualstats_aggregate_constvalues_current
        ) qnc ON qn.qualid = qnc.qualid AND qn.queryid = qnc.queryid,
        LATERAL
                unnest(%s) AS t(constants, nbfiltered, count)
        WHERE %s
        GROUP BY qn.qualid, quals, constants, s.queryid, query
        ORDER BY %s
        LIMIT %s
    )
    SELECT query, queryid, qualid, quals, constants,
                nbfiltered, count, filter_ratio,
                row_number() OVER (ORDER BY count DESC NULLS LAST) AS rownumber
        FROM sample
    ORDER BY 9
    LIMIT %s
    ) %s`, criterion, cond.SQL, order, topArg, topArg, criterion)
	return sql, nil
}

// ConstSample is one ranked constant-value binding as embedded in the
// figures row.
type ConstSample struct {
	Query       string   `json:"query"`
	Queryid     int64    `json:"queryid"`
	Qualid      int64    `json:"qualid"`
	Constants   []string `json:"constants"`
	Nbfiltered  float64  `json:"nbfiltered"`
	Count       float64  `json:"count"`
	FilterRatio float64  `json:"filter_ratio"`
	RowNumber   int64    `json:"rownumber"`
}

// FiguresRow is the row-aligned comparison of the three rankings for one
// qual group, plus the group's unresolved predicate references and the
// normalized query text they were observed in.
type FiguresRow struct {
	Quals          qual.RefList
	Query          string
	MostFiltering  ConstSample
	LeastFiltering ConstSample
	MostExecuted   ConstSample
}

// StatRow shapes the figures into one aggregation input row for
// qual.ResolveQuals, using the most-executed sample's counters.
func (f *FiguresRow) StatRow() qual.StatRow {
	return qual.StatRow{
		Queryid:     f.MostExecuted.Queryid,
		Qualid:      f.MostExecuted.Qualid,
		Count:       f.MostExecuted.Count,
		Nbfiltered:  f.MostExecuted.Nbfiltered,
		FilterRatio: f.MostExecuted.FilterRatio,
		Quals:       f.Quals,
	}
}

// GetFigures runs the combined figures query: the three rankings joined
// strictly on row number. Returns ErrNoData when nothing overlaps the
// requested window.
func GetFigures(ctx context.Context, q db.Queryer, opts Options) (*FiguresRow, error) {
	cond := opts.condition()

	mf, err := QualConstants(MostFiltering, cond, opts.Top)
	if err != nil {
		return nil, err
	}
	lf, err := QualConstants(LeastFiltering, cond, opts.Top)
	if err != nil {
		return nil, err
	}
	me, err := QualConstants(MostExecuted, cond, opts.Top)
	if err != nil {
		return nil, err
	}

	top := opts.Top
	if top < 1 {
		top = 1
	}
	args := append(append([]any{}, cond.Args...), top)

	sql := fmt.Sprintf(`SELECT to_json(most_filtering.quals) AS quals,
       most_filtering.query,
       to_json(most_filtering) AS most_filtering,
       to_json(least_filtering) AS least_filtering,
       to_json(most_executed) AS most_executed
FROM %s
JOIN %s ON most_filtering.rownumber = least_filtering.rownumber
JOIN %s ON most_executed.rownumber = least_filtering.rownumber`,
		mf, lf, me)

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, qerrors.NewQueryError(sql, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, qerrors.NewQueryError(sql, err)
		}
		return nil, qerrors.ErrNoData
	}

	var (
		out      FiguresRow
		qualsRaw []byte
		mfRaw    []byte
		lfRaw    []byte
		meRaw    []byte
	)
	if err := rows.Scan(&qualsRaw, &out.Query, &mfRaw, &lfRaw, &meRaw); err != nil {
		return nil, fmt.Errorf("scan figures: %w", err)
	}
	if err := json.Unmarshal(qualsRaw, &out.Quals); err != nil {
		return nil, fmt.Errorf("decode quals: %w", err)
	}
	for _, part := range []struct {
		name string
		raw  []byte
		dst  *ConstSample
	}{
		{MostFiltering, mfRaw, &out.MostFiltering},
		{LeastFiltering, lfRaw, &out.LeastFiltering},
		{MostExecuted, meRaw, &out.MostExecuted},
	} {
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return nil, fmt.Errorf("decode %s sample: %w", part.name, err)
		}
	}
	return &out, nil
}

// Criteria returns the ranking criteria in their display order.
func Criteria() []string {
	return []string{MostFiltering, LeastFiltering, MostExecuted}
}

// Titles maps criteria to their human-readable display titles.
var Titles = map[string]string{
	MostFiltering:  "most filtering",
	LeastFiltering: "least filtering",
	MostExecuted:   "most executed",
}

// SampleByCriterion returns the sample for a criterion name.
func (f *FiguresRow) SampleByCriterion(criterion string) (ConstSample, bool) {
	switch criterion {
	case MostFiltering:
		return f.MostFiltering, true
	case LeastFiltering:
		return f.LeastFiltering, true
	case MostExecuted:
		return f.MostExecuted, true
	}
	return ConstSample{}, false
}
