package ecengine

import "fmt"

// fit scans qi's EC list for the unique non-deprecated EC containing v.
// On a hit, membership is incremented unconditionally — even an EC
// already at or above the k threshold keeps growing until the next
// refresh (spec §4.2, note on step 2).
func (e *Engine) fit(qi int, v float64) (ordinal int, ok bool) {
	for _, ec := range e.ecLists[qi] {
		if ec.Deprecated {
			continue
		}
		if ec.contains(v) {
			ec.Member++
			return ec.Number, true
		}
	}
	return 0, false
}

// overlapHit records one existing EC's overlap with a generalize candidate.
// side 0 = the candidate straddles the EC's lower bound from the left;
// side 1 = the candidate straddles the EC's upper bound from the right.
type overlapHit struct {
	ordinal  int
	side     int
	boundary float64
}

// reviewOverlap finds every non-deprecated EC whose bound lies strictly
// inside the candidate interval [lbNew, ubNew). By construction (both new
// and existing ECs have width >= GENERALIZE_RANGE) an existing EC can
// never be strictly contained in the candidate, or vice versa, so each
// overlapping EC contributes exactly one hit (spec §4.1).
func (e *Engine) reviewOverlap(qi int, lbNew, ubNew float64) []overlapHit {
	var hits []overlapHit
	for _, ec := range e.ecLists[qi] {
		if ec.Deprecated {
			continue
		}
		switch {
		case lbNew < ec.LBound && ec.LBound < ubNew:
			hits = append(hits, overlapHit{ordinal: ec.Number, side: 0, boundary: ec.LBound})
		case lbNew < ec.UBound && ec.UBound < ubNew:
			hits = append(hits, overlapHit{ordinal: ec.Number, side: 1, boundary: ec.UBound})
		}
	}
	return hits
}

// generalize constructs a width-GENERALIZE_RANGE candidate interval
// around v and resolves overlap with existing ECs in one retry pass
// (spec §4.1): zero overlaps creates the candidate as-is; one overlap
// slides the candidate flush against the offending EC and retries once;
// a second one-overlap result is accepted; two overlaps merge-extends
// the pinching neighbors instead of creating a new EC.
func (e *Engine) generalize(qi int, v float64) (int, error) {
	width := e.params.GeneralizeRange
	lbNew := v - e.rng.Float64()*width
	ubNew := lbNew + width

	hits := e.reviewOverlap(qi, lbNew, ubNew)
	if len(hits) == 1 {
		h := hits[0]
		if h.side == 0 {
			ubNew = h.boundary
			lbNew = ubNew - width
		} else {
			lbNew = h.boundary
			ubNew = lbNew + width
		}
		hits = e.reviewOverlap(qi, lbNew, ubNew)
	}

	switch len(hits) {
	case 0, 1:
		return e.createEC(qi, lbNew, ubNew), nil
	case 2:
		return e.mergeExtend(qi, hits[0].ordinal, hits[1].ordinal, v), nil
	default:
		return 0, fmt.Errorf("overlap count %d exceeds 2", len(hits))
	}
}

// createEC appends a new EC to qi's list, at position len(list), with the
// arriving value counted as its first member.
func (e *Engine) createEC(qi int, lb, ub float64) int {
	ord := len(e.ecLists[qi])
	e.ecLists[qi] = append(e.ecLists[qi], &EquivalenceClass{
		Number: ord,
		LBound: lb,
		UBound: ub,
		Member: 1,
	})
	return ord
}

// mergeExtend resolves a candidate pinched between two neighbors with
// less than GENERALIZE_RANGE room by moving their shared boundary to the
// midpoint instead of creating a third EC. The value joins whichever
// side it now falls in; membership of the untouched side is not
// transferred, and the joining value itself is not counted as a new
// member here (spec §4.1 — the value is simply assigned to an existing
// ordinal, mirroring the reference implementation's extend_EC, which
// never increments member on this path).
func (e *Engine) mergeExtend(qi, ecn1, ecn2 int, v float64) int {
	list := e.ecLists[qi]
	e1, e2 := findEC(list, ecn1), findEC(list, ecn2)
	if e1.UBound > e2.UBound {
		e1, e2 = e2, e1
	}
	avg := (e2.LBound + e1.UBound) / 2
	e1.UBound = avg
	e2.LBound = avg
	if v > avg {
		return e2.Number
	}
	return e1.Number
}

// findEC returns the EC with the given stable ordinal. Ordinals double as
// list positions because ECs are only ever appended, never removed
// except at refresh (spec §9).
func findEC(list []*EquivalenceClass, ordinal int) *EquivalenceClass {
	return list[ordinal]
}
