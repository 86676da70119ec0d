// Package hypo proposes hypothetical indexes for composed quals and
// measures their benefit with the hypopg extension.
//
// hypopg exposes "create hypothetical index" and makes the planner
// consider such indexes while the session-local hypopg.enabled flag is on;
// no index is ever physically built.
package hypo

import (
	"context"
	"fmt"
	"strings"

	"github.com/koltyakov/pgqual/internal/catalog"
	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
	"github.com/koltyakov/pgqual/internal/qual"
)

// HypoIndex is one proposed index: the relation, the access method and the
// quals whose columns it covers, in their original order. Name is assigned
// once the index has been created in a session.
type HypoIndex struct {
	Nspname string               `json:"nspname"`
	Relname string               `json:"relname"`
	AmName  string               `json:"amname"`
	Quals   []*qual.ResolvedQual `json:"quals"`
	Name    string               `json:"name,omitempty"`
}

// DDL derives the CREATE INDEX statement for the proposal. Only btree is
// supported right now; any other access method yields an empty string,
// which callers must check before trying to create the index.
func (ix *HypoIndex) DDL() string {
	if ix.AmName != "btree" {
		return ""
	}
	cols := make([]string, len(ix.Quals))
	for i, q := range ix.Quals {
		cols[i] = catalog.QuoteIdent(q.Attname)
	}
	return fmt.Sprintf("CREATE INDEX ON %s.%s(%s)",
		catalog.QuoteIdent(ix.Nspname),
		catalog.QuoteIdent(ix.Relname),
		strings.Join(cols, ","))
}

// HypoDDL derives the hypopg call creating the hypothetical index, or an
// empty string when the access method has no DDL.
func (ix *HypoIndex) HypoDDL() string {
	if ix.DDL() == "" {
		return ""
	}
	return "SELECT indexname FROM hypopg_create_index($1)"
}

// PossibleIndexes groups the parts of one composed qual by each compatible
// index access method and proposes one candidate index per method covering
// all grouped columns. A part supporting several methods joins each of
// their groups. Columns are not deduplicated and column order is not
// refined for order-sensitive methods; the output is a single candidate
// per method, left for the caller to validate further.
func PossibleIndexes(cq *qual.ComposedQual) []*HypoIndex {
	var order []string
	byAm := make(map[string][]*qual.ResolvedQual)
	for _, q := range cq.Quals() {
		for _, am := range q.IndexAmNames {
			if _, seen := byAm[am]; !seen {
				order = append(order, am)
			}
			byAm[am] = append(byAm[am], q)
		}
	}
	indexes := make([]*HypoIndex, 0, len(order))
	for _, am := range order {
		quals := byAm[am]
		base := quals[0]
		indexes = append(indexes, &HypoIndex{
			Nspname: base.Nspname,
			Relname: base.Relname,
			AmName:  am,
			Quals:   quals,
		})
	}
	return indexes
}

// CreateHypotheticalIndexes creates every DDL-capable proposal in the
// session behind q and records the assigned name on the index. Proposals
// without DDL are skipped. Returns the indexes actually created.
func CreateHypotheticalIndexes(ctx context.Context, q db.Queryer, indexes []*HypoIndex) ([]*HypoIndex, error) {
	var created []*HypoIndex
	for _, ix := range indexes {
		ddl := ix.DDL()
		if ddl == "" {
			continue
		}
		rows, err := q.Query(ctx, ix.HypoDDL(), ddl)
		if err != nil {
			return created, qerrors.NewQueryError(ddl, err)
		}
		if rows.Next() {
			if err := rows.Scan(&ix.Name); err != nil {
				rows.Close()
				return created, fmt.Errorf("scan hypothetical index name: %w", err)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return created, qerrors.NewQueryError(ddl, err)
		}
		created = append(created, ix)
	}
	return created, nil
}
