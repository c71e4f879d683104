// Package ecengine implements the online Equivalence Class engine that
// performs streaming k-anonymization of sensor tuples: quasi-identifier
// (QI) fields are generalized into ranges shared by at least k records
// before publication; sensitive-information (SI) fields are stripped.
//
// The engine is the single-writer core described by the spec: a per-QI
// set of disjoint intervals (Equivalence Classes), a bounded
// accumulation queue for records still short of k members, and an
// EC-mutation protocol (create, extend, deprecate, merge, force-extend
// with compromise fallback) that bounds publication latency while
// preserving k-anonymity.
//
// All state lives on one Engine value; there is no package-level
// mutable state. Ingest calls must be serialized by the caller, or
// wrapped in a mutex for multi-producer use — Engine does this itself
// (see engine.go).
package ecengine

// Value is the dynamically-typed content of one input field. Exactly one
// of the two fields is meaningful, selected by IsNumber.
type Value struct {
	Number   float64
	Text     string
	IsNumber bool
}

// NumberValue constructs a numeric Value.
func NumberValue(v float64) Value { return Value{Number: v, IsNumber: true} }

// TextValue constructs an opaque text Value.
func TextValue(v string) Value { return Value{Text: v} }

// EquivalenceClass is a half-open interval [LBound, UBound) on one QI
// dimension. Number is the EC's stable ordinal — its position in its
// QI's list at creation time — and also the index used to address it
// for the lifetime of the EC list (until the next refresh).
type EquivalenceClass struct {
	Number     int
	LBound     float64
	UBound     float64
	Member     int64
	Deprecated bool
}

// contains reports whether v falls within this EC's half-open interval.
func (e *EquivalenceClass) contains(v float64) bool {
	return e.LBound <= v && v < e.UBound
}

// width returns the EC's interval width.
func (e *EquivalenceClass) width() float64 {
	return e.UBound - e.LBound
}

// accumulatedRecord is a tuple still short of k-anonymity on at least one
// QI, held in the accumulation queue pending maturation or forced flush.
type accumulatedRecord struct {
	counter  uint64
	payload  []Value
	qiToEC   map[int]int // QI index -> EC ordinal assigned at arrival
}

// PublishedRecord is the generalized, SI-stripped record handed to a Sink.
// Fields holds the output in the original field order with SI positions
// omitted and QI positions replaced by their published Range — built as a
// fresh filtered slice rather than by index-shifted in-place removal, so
// it has the same observable shape as the reference implementation's
// descending-index pop without its index-bookkeeping.
type PublishedRecord struct {
	Counter       uint64
	Fields        []PublishedField
	QIRanges      map[int]Range // QI index -> published range, for inspection/logging
	CompromiseQIs []int         // QI indices whose range came from the compromise map
}

// PublishedField is one output position: either a passthrough opaque
// value or a generalized QI range.
type PublishedField struct {
	IsRange bool
	Range   Range
	Value   Value
}

// Range is a published [LBound, UBound) generalization for one QI.
type Range struct {
	LBound float64
	UBound float64
}

// Sink receives published records. Implementations are the engine's
// external collaborator for actual transmission off the device; the
// engine never blocks meaningfully on Sink — Publish should be fast and
// non-blocking by the caller's own design, matching spec §6's framing
// of the transmission channel as an external concern specified only by
// interface.
type Sink interface {
	Publish(record PublishedRecord) error
}
