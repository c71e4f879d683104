package ecengine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/wearable/kanon-streamer/internal/engineerr"
	"github.com/wearable/kanon-streamer/internal/logger"
)

// Params holds the operator-tunable constants from config §6.1. All
// fields are required; Engine does not apply defaults of its own — that
// is internal/config's job.
type Params struct {
	QIPos                      []int
	SIPos                      []int
	GeneralizeRange            float64
	AccumulationDelayTolerance uint64
	RefreshTimer               time.Duration
	ThresholdK                 int64
	ECMaxHoldingMembers        int64
}

// Engine is the single-writer k-anonymization core. The zero value is not
// usable; construct with New. All exported methods acquire Engine's
// internal mutex, so a single Engine may be shared across producer
// goroutines even though the underlying algorithm is conceived as
// single-threaded and cooperative (spec §5).
type Engine struct {
	mu sync.Mutex

	params Params
	sink   Sink
	log    *logger.Logger
	rng    *rand.Rand
	now    func() time.Time // overridable for tests; defaults to time.Now

	ecLists map[int][]*EquivalenceClass // sparse: QI index -> EC list
	queue   *accumulationQueue

	compromise map[int]Range   // cleared after each compromise-mode publish
	alterLog   map[int][2]int  // QI -> [oldOrdinal, newOrdinal], cleared after each apply

	initTimer time.Time

	latestCounter uint64

	onRefresh     func() // invoked once per refresh sweep, for metrics
	onForceExtend func() // invoked once per QI force-extended off the queue head, for metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSeed fixes the engine's random source for deterministic tests and
// reproducible runs, per spec §8's publication-determinism law.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger attaches a structured logger. If omitted, a silent logger at
// level "error" is used.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// withClock overrides the wall-clock source used for refresh timing.
// Test-only; unexported because production callers should never need it.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnRefresh registers a callback invoked once per completed refresh
// sweep (spec §4.5). Intended for metrics instrumentation; the engine
// itself has no notion of counters.
func WithOnRefresh(fn func()) Option {
	return func(e *Engine) { e.onRefresh = fn }
}

// WithOnForceExtend registers a callback invoked once per QI dimension
// force-extended off the queue head (spec §4.3). Intended for metrics
// instrumentation; the engine itself has no notion of counters.
func WithOnForceExtend(fn func()) Option {
	return func(e *Engine) { e.onForceExtend = fn }
}

// New constructs an Engine with the given params and publication sink.
func New(params Params, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		params:     params,
		sink:       sink,
		log:        logger.New("EC", "error"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		queue:      newAccumulationQueue(),
		compromise: make(map[int]Range),
		alterLog:   make(map[int][2]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetECLists()
	e.initTimer = e.now()
	return e
}

// resetECLists (re)allocates one empty EC list per QI position, sparse
// over the QI index space rather than dense to max(QI_POS)+1 (spec §9).
func (e *Engine) resetECLists() {
	e.ecLists = make(map[int][]*EquivalenceClass, len(e.params.QIPos))
	for _, qi := range e.params.QIPos {
		e.ecLists[qi] = nil
	}
}

// QueueLen reports the number of records currently accumulating. Safe for
// concurrent use; intended for metrics/management introspection.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// ECCounts reports the number of non-deprecated ECs per QI. Intended for
// metrics/management introspection.
func (e *Engine) ECCounts() map[int]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]int, len(e.ecLists))
	for qi, list := range e.ecLists {
		n := 0
		for _, ec := range list {
			if !ec.Deprecated {
				n++
			}
		}
		out[qi] = n
	}
	return out
}

// SecondsToRefresh reports the time remaining before the age-based
// refresh predicate fires, ignoring the member-overgrowth predicate.
func (e *Engine) SecondsToRefresh() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := e.params.RefreshTimer - e.now().Sub(e.initTimer)
	return remaining.Seconds()
}

// Ingest processes one incoming tuple: fit-or-generalize every QI,
// accumulate or publish, then run the refresh check and expiry sweep.
// counter must be monotonically increasing across calls and must not
// skip or repeat a value for any tuple actually passed to Ingest; it is
// supplied by the caller (spec §9 Open Question: the engine never
// maintains an implicit counter of its own), and it drives
// ACCUMULATION_DELAY_TOLERANCE expiry directly.
func (e *Engine) Ingest(counter uint64, fields []Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, qi := range e.params.QIPos {
		if qi < 0 || qi >= len(fields) {
			return engineerr.Newf(engineerr.InputInvalid, "QI index %d out of range for %d fields", qi, len(fields)).WithInput(counter, qi)
		}
		if !fields[qi].IsNumber {
			return engineerr.Newf(engineerr.InputInvalid, "QI field is not numeric").WithInput(counter, qi)
		}
	}

	qiToEC := make(map[int]int, len(e.params.QIPos))
	toAccumulate := false

	for _, qi := range e.params.QIPos {
		v := fields[qi].Number

		if ord, ok := e.fit(qi, v); ok {
			qiToEC[qi] = ord
			continue
		}

		ord, err := e.generalize(qi, v)
		if err != nil {
			return engineerr.Wrap(engineerr.InternalInvariant, err, "generalize").WithInput(counter, qi)
		}
		qiToEC[qi] = ord
	}

	// Post-loop authoritative check: any under-k EC forces accumulation.
	// The reference implementation also sets toAccumulate inline on every
	// generalize call; that flag is dead once this check runs, and is
	// deliberately not reproduced (spec §9 Open Question).
	for _, qi := range e.params.QIPos {
		if e.ecLists[qi][qiToEC[qi]].Member < e.params.ThresholdK {
			toAccumulate = true
			break
		}
	}

	rec := &accumulatedRecord{counter: counter, payload: fields, qiToEC: qiToEC}
	if toAccumulate {
		e.queue.PushBack(rec)
	} else if err := e.publishNormal(rec); err != nil {
		return err
	}

	e.latestCounter = counter

	if err := e.checkRefresh(); err != nil {
		return err
	}
	return e.expirySweep(counter)
}
