package ecengine

import "github.com/wearable/kanon-streamer/internal/engineerr"

// publishNormal publishes rec using each QI's currently-assigned EC
// bounds (spec §4.4, normal mode). Every substituted QI range corresponds
// to an EC with member >= k at the moment of publication — publishNormal
// is only ever called once the post-loop accumulation check in Ingest
// has determined every QI is already mature.
func (e *Engine) publishNormal(rec *accumulatedRecord) error {
	return e.publish(rec, false)
}

// publish builds the generalized, SI-stripped PublishedRecord and hands
// it to the sink. compromiseMode substitutes any QI present in the
// Compromise Map for that QI's EC-derived range, and clears the map
// afterward (spec §4.4).
func (e *Engine) publish(rec *accumulatedRecord, compromiseMode bool) error {
	siSet := make(map[int]bool, len(e.params.SIPos))
	for _, si := range e.params.SIPos {
		siSet[si] = true
	}
	qiSet := make(map[int]bool, len(e.params.QIPos))
	for _, qi := range e.params.QIPos {
		qiSet[qi] = true
	}

	out := PublishedRecord{
		Counter:  rec.counter,
		QIRanges: make(map[int]Range, len(e.params.QIPos)),
	}

	for i, v := range rec.payload {
		if siSet[i] {
			continue
		}
		if !qiSet[i] {
			out.Fields = append(out.Fields, PublishedField{Value: v})
			continue
		}

		var rng Range
		if compromiseMode {
			if cr, ok := e.compromise[i]; ok {
				rng = cr
				out.CompromiseQIs = append(out.CompromiseQIs, i)
			} else {
				rng = e.ecRange(i, rec.qiToEC[i])
			}
		} else {
			ec := e.ecLists[i][rec.qiToEC[i]]
			if ec.Member < e.params.ThresholdK {
				return engineerr.Newf(engineerr.InternalInvariant,
					"publish: normal-mode QI %d published from sub-k EC (member=%d)", i, ec.Member).WithInput(rec.counter, i)
			}
			rng = e.ecRange(i, rec.qiToEC[i])
		}
		out.Fields = append(out.Fields, PublishedField{IsRange: true, Range: rng})
		out.QIRanges[i] = rng
	}

	if compromiseMode {
		e.compromise = make(map[int]Range)
	}

	return e.sink.Publish(out)
}

func (e *Engine) ecRange(qi, ordinal int) Range {
	ec := e.ecLists[qi][ordinal]
	return Range{LBound: ec.LBound, UBound: ec.UBound}
}
