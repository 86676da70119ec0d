// Package catalog resolves opaque PostgreSQL catalog identifiers into
// descriptive records.
//
// Predicate statistics reference operators and columns by OID and attribute
// number only. This package turns a batch of such references into names and
// planner statistics using exactly two queries, one against the operator
// catalog and one against the attribute/statistics catalogs, so resolving a
// large statistics window never degenerates into per-identifier lookups.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// Operator describes a resolved operator and the index access methods able
// to evaluate it as an index qual. The hash access method is excluded by
// convention: a hash index on a filtered column is almost never the index
// this analysis would want to propose.
type Operator struct {
	Name         string   `json:"name"`
	IndexAms     []uint32 `json:"indexams"`
	IndexAmNames []string `json:"indexam_names"`
}

// AttrRef identifies one column as (relation OID, attribute number).
type AttrRef struct {
	Relid  uint32
	Attnum int16
}

// Key returns the map key used for the resolved attribute, "relid.attnum".
func (r AttrRef) Key() string {
	return fmt.Sprintf("%d.%d", r.Relid, r.Attnum)
}

// Attribute fuses column metadata with planner statistics for the column
// and a live-tuple estimate for the owning table.
type Attribute struct {
	Relname          string  `json:"relname"`
	Attname          string  `json:"attname"`
	Nspname          string  `json:"nspname"`
	NDistinct        float64 `json:"n_distinct"`
	NullFrac         float64 `json:"null_frac"`
	MostCommonValues []any   `json:"most_common_values"`
	TableLiverows    int64   `json:"table_liverows"`
}

const resolveOperatorsSQL = `
SELECT pg_operator.oid, oprname,
       coalesce(array_agg(DISTINCT pg_am.oid ORDER BY pg_am.oid)
                FILTER (WHERE pg_am.oid IS NOT NULL), '{}'),
       coalesce(array_agg(DISTINCT pg_am.amname ORDER BY pg_am.amname)
                FILTER (WHERE pg_am.amname IS NOT NULL), '{}')
FROM pg_operator
LEFT JOIN pg_amop amop ON amop.amopopr = pg_operator.oid
LEFT JOIN pg_am ON amop.amopmethod = pg_am.oid AND pg_am.amname != 'hash'
WHERE pg_operator.oid = ANY($1::oid[])
GROUP BY pg_operator.oid, oprname`

// ResolveOperators resolves a set of operator OIDs in one batched query.
// An empty set issues no query and returns an empty map. The result is
// keyed by the stringified operator OID.
func ResolveOperators(ctx context.Context, q db.Queryer, oids []uint32) (map[string]Operator, error) {
	out := make(map[string]Operator)
	if len(oids) == 0 {
		return out, nil
	}
	sorted := append([]uint32(nil), oids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rows, err := q.Query(ctx, resolveOperatorsSQL, sorted)
	if err != nil {
		return nil, qerrors.NewQueryError(resolveOperatorsSQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			oid uint32
			op  Operator
		)
		if err := rows.Scan(&oid, &op.Name, &op.IndexAms, &op.IndexAmNames); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out[strconv.FormatUint(uint64(oid), 10)] = op
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.NewQueryError(resolveOperatorsSQL, err)
	}
	return out, nil
}

// resolveAttributesSQL is completed with one ($n,$m) tuple per requested
// attribute. The most-common-values sample lives in whichever of the five
// statistic slots has kind 1; it is shipped as json because the underlying
// anyarray has no element type a client could bind to.
const resolveAttributesSQL = `
SELECT a.attrelid, a.attnum, c.relname, a.attname, n.nspname,
       coalesce(s.stadistinct, 0),
       coalesce(s.stanullfrac, 0),
       to_json(CASE
           WHEN s.stakind1 = 1 THEN s.stavalues1
           WHEN s.stakind2 = 1 THEN s.stavalues2
           WHEN s.stakind3 = 1 THEN s.stavalues3
           WHEN s.stakind4 = 1 THEN s.stavalues4
           WHEN s.stakind5 = 1 THEN s.stavalues5
           ELSE NULL::anyarray
       END)::text,
       pg_stat_get_live_tuples(c.oid)::bigint
FROM pg_attribute a
INNER JOIN pg_class c ON c.oid = a.attrelid
INNER JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_statistic s ON s.starelid = c.oid AND s.staattnum = a.attnum
WHERE (a.attrelid, a.attnum) IN (%s)`

// ResolveAttributes resolves a set of (relation, attribute) pairs in one
// batched query. An empty set issues no query and returns an empty map.
// The result is keyed "relid.attnum".
func ResolveAttributes(ctx context.Context, q db.Queryer, attrs []AttrRef) (map[string]Attribute, error) {
	out := make(map[string]Attribute)
	if len(attrs) == 0 {
		return out, nil
	}
	sorted := append([]AttrRef(nil), attrs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Relid != sorted[j].Relid {
			return sorted[i].Relid < sorted[j].Relid
		}
		return sorted[i].Attnum < sorted[j].Attnum
	})

	tuples := make([]string, 0, len(sorted))
	args := make([]any, 0, 2*len(sorted))
	for i, ref := range sorted {
		tuples = append(tuples, fmt.Sprintf("($%d::oid,$%d::smallint)", 2*i+1, 2*i+2))
		args = append(args, ref.Relid, ref.Attnum)
	}
	sql := fmt.Sprintf(resolveAttributesSQL, strings.Join(tuples, ","))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, qerrors.NewQueryError(sql, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			relid  uint32
			attnum int16
			attr   Attribute
			mcv    *string
		)
		if err := rows.Scan(&relid, &attnum, &attr.Relname, &attr.Attname,
			&attr.Nspname, &attr.NDistinct, &attr.NullFrac, &mcv,
			&attr.TableLiverows); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		if mcv != nil && *mcv != "null" {
			if err := json.Unmarshal([]byte(*mcv), &attr.MostCommonValues); err != nil {
				return nil, fmt.Errorf("decode most common values for %d.%d: %w", relid, attnum, err)
			}
		}
		out[AttrRef{Relid: relid, Attnum: attnum}.Key()] = attr
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.NewQueryError(sql, err)
	}
	return out, nil
}

// QuoteIdent quotes an SQL identifier, doubling any embedded quote.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
