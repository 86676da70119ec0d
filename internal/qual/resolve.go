package qual

import (
	"context"
	"strconv"

	"github.com/koltyakov/pgqual/internal/catalog"
	"github.com/koltyakov/pgqual/internal/db"
	qerrors "github.com/koltyakov/pgqual/internal/errors"
)

// ResolveQuals aggregates raw statistics rows into composed quals.
//
// The rows are scanned once to collect the union of referenced operator
// OIDs and (relation, attribute) pairs, which are then resolved through
// two batched catalog lookups; a second scan assembles one ComposedQual
// per row, in input order. References with relation OID 0 (constant-only
// or otherwise unattributable parts) are skipped.
//
// A part whose relation differs from the one established by the row's
// first part is a hard validation error, and a reference the resolver
// returned no entry for is a lookup error; both abort the whole pass.
func ResolveQuals(ctx context.Context, q db.Queryer, rows []StatRow) ([]*ComposedQual, error) {
	opSet := make(map[uint32]struct{})
	attrSet := make(map[catalog.AttrRef]struct{})
	for _, row := range rows {
		for _, ref := range row.Quals {
			opSet[ref.Opno] = struct{}{}
			attrSet[catalog.AttrRef{Relid: ref.Relid, Attnum: ref.Attnum}] = struct{}{}
		}
	}

	oids := make([]uint32, 0, len(opSet))
	for oid := range opSet {
		oids = append(oids, oid)
	}
	attrs := make([]catalog.AttrRef, 0, len(attrSet))
	for ref := range attrSet {
		attrs = append(attrs, ref)
	}

	operators, err := catalog.ResolveOperators(ctx, q, oids)
	if err != nil {
		return nil, err
	}
	attributes, err := catalog.ResolveAttributes(ctx, q, attrs)
	if err != nil {
		return nil, err
	}

	out := make([]*ComposedQual, 0, len(rows))
	for _, row := range rows {
		cq := &ComposedQual{
			Qualid:      row.Qualid,
			Count:       row.Count,
			Nbfiltered:  row.Nbfiltered,
			FilterRatio: row.FilterRatio,
		}
		out = append(out, cq)
		for _, ref := range row.Quals {
			if ref.Relid == 0 {
				continue
			}
			attrKey := catalog.AttrRef{Relid: ref.Relid, Attnum: ref.Attnum}.Key()
			attr, ok := attributes[attrKey]
			if !ok {
				return nil, qerrors.NewLookupError("attribute", attrKey)
			}
			opKey := strconv.FormatUint(uint64(ref.Opno), 10)
			op, ok := operators[opKey]
			if !ok {
				return nil, qerrors.NewLookupError("operator", opKey)
			}
			if cq.Relname == "" {
				cq.TableLiverows = attr.TableLiverows
			}
			if err := cq.Append(&ResolvedQual{
				Nspname:          attr.Nspname,
				Relname:          attr.Relname,
				Attname:          attr.Attname,
				Opname:           op.Name,
				IndexAmNames:     op.IndexAmNames,
				NDistinct:        attr.NDistinct,
				MostCommonValues: attr.MostCommonValues,
				NullFrac:         attr.NullFrac,
				EvalType:         ref.EvalType,
			}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
