package qual

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Ref is one unresolved predicate reference as recorded by the statistics
// extension: operator OID, relation OID, attribute number and whether the
// predicate was evaluated as an index qual or as a filter.
type Ref struct {
	Opno     uint32 `json:"opno"`
	Relid    uint32 `json:"relid"`
	Attnum   int16  `json:"attnum"`
	EvalType string `json:"eval_type"`
}

// refJSON mirrors Ref with flexible identifier decoding: the extension's
// composite types render OIDs as JSON strings, while hand-built payloads
// use numbers.
type refJSON struct {
	Opno     flexUint `json:"opno"`
	Relid    flexUint `json:"relid"`
	Attnum   flexInt  `json:"attnum"`
	EvalType string   `json:"eval_type"`
}

// UnmarshalJSON accepts OIDs as either JSON numbers or strings.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var raw refJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Ref{
		Opno:     uint32(raw.Opno),
		Relid:    uint32(raw.Relid),
		Attnum:   int16(raw.Attnum),
		EvalType: raw.EvalType,
	}
	return nil
}

// RefList decodes either a single reference object or a list of them,
// normalizing to a list.
type RefList []Ref

// UnmarshalJSON implements the single-or-list normalization.
func (l *RefList) UnmarshalJSON(data []byte) error {
	var refs []Ref
	if err := json.Unmarshal(data, &refs); err == nil {
		*l = refs
		return nil
	}
	var one Ref
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("qual references must be an object or a list of objects: %w", err)
	}
	*l = RefList{one}
	return nil
}

// StatRow is one raw statistics row to aggregate: the qual group identity,
// its counters and the unresolved predicate references.
type StatRow struct {
	Queryid     int64
	Qualid      int64
	Count       float64
	Nbfiltered  float64
	FilterRatio float64
	Quals       RefList
}

type flexUint uint64

func (f *flexUint) UnmarshalJSON(data []byte) error {
	v, err := flexParse(data)
	if err != nil {
		return err
	}
	*f = flexUint(v)
	return nil
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	v, err := flexParse(data)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

func flexParse(data []byte) (int64, error) {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %s: %w", string(data), err)
	}
	return v, nil
}
