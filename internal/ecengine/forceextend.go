package ecengine

import "math"

// forceExtendResult is the outcome of force-extending one QI dimension of
// an expiring queued record.
type forceExtendResult struct {
	newOrdinal int  // -1 means compromise mode: publish from the Compromise Map instead
}

// forceExtend implements the force-extend-with-compromise-fallback
// protocol (spec §4.3) for one QI dimension of a record about to expire
// from the accumulation queue. origOrdinal is the EC the record was
// assigned to on arrival; it still has fewer than k members.
func (e *Engine) forceExtend(qi int, v float64, origOrdinal int) forceExtendResult {
	list := e.ecLists[qi]
	orig := list[origOrdinal]
	orig.Deprecated = true

	primary, alternate := e.findClosestPair(list, v)

	if primary != nil && primary.Member >= e.params.ThresholdK-1 {
		e.stretchAndAbsorb(qi, primary, v)
		e.alterLog[qi] = [2]int{origOrdinal, primary.Number}
		return forceExtendResult{newOrdinal: primary.Number}
	}

	if alternate != nil && alternate.Member >= e.params.ThresholdK-1 {
		e.stretchAndAbsorb(qi, alternate, v)
		e.alterLog[qi] = [2]int{origOrdinal, alternate.Number}
		return forceExtendResult{newOrdinal: alternate.Number}
	}

	e.compromise2(qi, v, orig)
	orig.Deprecated = false
	return forceExtendResult{newOrdinal: -1}
}

// findClosestPair scans qi's non-deprecated ECs for the one minimizing
// min(|ubound-v|, |lbound-v|) (primary), tracking a second EC that ties
// the running-best distance (alternate). The first non-deprecated EC
// seen becomes primary; a later EC with a strictly smaller distance
// replaces primary; a later EC tying the current best distance populates
// alternate (spec §9 Open Question — resolving the original's dist=-1
// sentinel trick with an explicit "found" flag instead of a sign check).
func (e *Engine) findClosestPair(list []*EquivalenceClass, v float64) (primary, alternate *EquivalenceClass) {
	found := false
	var bestDist float64
	for _, ec := range list {
		if ec.Deprecated {
			continue
		}
		dist := math.Min(math.Abs(ec.UBound-v), math.Abs(ec.LBound-v))
		switch {
		case !found:
			primary, bestDist, found = ec, dist, true
		case dist < bestDist:
			primary, bestDist = ec, dist
		case dist == bestDist:
			alternate = ec
		}
	}
	return primary, alternate
}

// stretchAndAbsorb stretches target's boundary toward v by a random pad
// so the force-extended record will push target's membership to k, then
// overlap-heals against every other non-deprecated EC, and finally
// increments target's membership.
func (e *Engine) stretchAndAbsorb(qi int, target *EquivalenceClass, v float64) {
	pad := e.rng.Float64() * e.params.GeneralizeRange / 3
	if v > target.UBound {
		target.UBound = v + pad
	} else {
		target.LBound = v - pad
	}
	e.overlapHeal(qi, target)
	target.Member++
}

// overlapHeal pulls target's just-stretched boundary back toward v if a
// neighbor now lies inside target's range. This is a single forward scan
// — a neighbor healed earlier in the scan can affect which side trips
// for a neighbor examined later, matching the reference implementation.
// The stretch may end up not covering v after healing; the record still
// joins target by ordinal regardless (spec §9 design note — a documented
// limitation, not tightened here).
func (e *Engine) overlapHeal(qi int, target *EquivalenceClass) {
	for _, ec := range e.ecLists[qi] {
		if ec.Deprecated || ec == target {
			continue
		}
		if target.LBound <= ec.LBound && ec.LBound < target.UBound {
			target.UBound = ec.LBound
		}
		if target.LBound <= ec.UBound && ec.UBound < target.UBound {
			target.LBound = ec.UBound
		}
	}
}

// compromise2 computes the fallback publication range for qi when no
// neighbor EC can absorb the expiring record's value, per spec §4.3.
// Named compromise2 to avoid colliding with the Engine.compromise map
// field.
func (e *Engine) compromise2(qi int, v float64, orig *EquivalenceClass) {
	mature := e.closestMature(qi, v)
	if mature == nil {
		// New-user degenerate case: no mature EC exists anywhere on this
		// QI yet. Publish with the expiring record's own (sub-k) EC
		// range — a documented privacy degradation, preserved per spec
		// §9 rather than fixed.
		e.compromise[qi] = Range{LBound: orig.LBound, UBound: orig.UBound}
		return
	}

	pad := e.rng.Float64() * e.params.GeneralizeRange / 3
	if v > mature.UBound {
		e.compromise[qi] = Range{LBound: mature.LBound, UBound: v + pad}
		return
	}
	e.compromise[qi] = Range{LBound: v - pad, UBound: mature.UBound}
}

// closestMature finds the non-deprecated EC with strictly more than k
// members minimizing min(|ubound-v|, |lbound-v|), or nil if none exists.
func (e *Engine) closestMature(qi int, v float64) *EquivalenceClass {
	found := false
	var best *EquivalenceClass
	var bestDist float64
	for _, ec := range e.ecLists[qi] {
		if ec.Deprecated || ec.Member <= e.params.ThresholdK {
			continue
		}
		dist := math.Min(math.Abs(ec.UBound-v), math.Abs(ec.LBound-v))
		if !found || dist < bestDist {
			best, bestDist, found = ec, dist, true
		}
	}
	return best
}
