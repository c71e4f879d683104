// Package experiment implements the research-mode instrumentation
// original_source gates behind its EXPERIMENT_MODE global (spec §6.4):
// an append-only log of every published tuple, a per-tuple anonymization
// delay log, and optionally a durable replay store.
//
// original_source attaches the arrival timestamp as the tuple's own
// trailing element and strips it back off inside publish(). This
// package keeps that measurement external to ecengine instead: Recorder
// tracks arrival time per counter and computes the same
// time.Now()-arrival delta at the moment a record is actually
// published, without the core engine ever seeing a synthetic QI/SI
// field it would have to special-case.
package experiment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wearable/kanon-streamer/internal/ecengine"
	bolt "go.etcd.io/bbolt"
)

// Recorder wraps an ecengine.Sink, appending to output_tuple.txt /
// output_delay.txt (spec §6.4) on every publish and forwarding the
// record unchanged to the wrapped sink.
type Recorder struct {
	mu       sync.Mutex
	inner    ecengine.Sink
	tupleLog *os.File
	delayLog *os.File
	arrivals map[uint64]time.Time
	log      zerolog.Logger
	store    *durableStore // nil when no bbolt path is configured
}

// New opens tupleLogPath and delayLogPath for append (creating them if
// needed) and returns a Recorder wrapping inner. Either path may be
// empty to skip that log.
func New(inner ecengine.Sink, tupleLogPath, delayLogPath string, log zerolog.Logger) (*Recorder, error) {
	r := &Recorder{inner: inner, arrivals: make(map[uint64]time.Time), log: log}

	if tupleLogPath != "" {
		f, err := openAppend(tupleLogPath)
		if err != nil {
			return nil, err
		}
		r.tupleLog = f
	}
	if delayLogPath != "" {
		f, err := openAppend(delayLogPath)
		if err != nil {
			return nil, err
		}
		r.delayLog = f
	}
	return r, nil
}

// WithDurableStore attaches a bbolt-backed append log at dbPath,
// recording every published record under counter -> PublishedRecord for
// crash-safe replay, adapting the teacher's bbolt cache.go open/bucket
// shape from value->token to counter->PublishedRecord.
func (r *Recorder) WithDurableStore(dbPath string) error {
	store, err := newDurableStore(dbPath)
	if err != nil {
		return err
	}
	r.store = store
	return nil
}

// RecordArrival notes the arrival time of the tuple at counter, the
// moment Recorder's caller hands it to Engine.Ingest. Publish uses this
// to compute anonymization delay.
func (r *Recorder) RecordArrival(counter uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrivals[counter] = time.Now()
}

// Publish appends the tuple and delay logs, persists to the durable
// store if configured, and forwards to the wrapped sink.
func (r *Recorder) Publish(record ecengine.PublishedRecord) error {
	r.mu.Lock()
	arrival, ok := r.arrivals[record.Counter]
	if ok {
		delete(r.arrivals, record.Counter)
	}
	r.mu.Unlock()

	if r.tupleLog != nil {
		if _, err := fmt.Fprintln(r.tupleLog, formatTuple(record)); err != nil {
			r.log.Warn().Err(err).Uint64("counter", record.Counter).Msg("write output_tuple.txt failed")
		}
	}
	if r.delayLog != nil && ok {
		delay := time.Since(arrival).Seconds()
		if _, err := fmt.Fprintf(r.delayLog, "%f\n", delay); err != nil {
			r.log.Warn().Err(err).Uint64("counter", record.Counter).Msg("write output_delay.txt failed")
		}
	}
	if r.store != nil {
		if err := r.store.put(record); err != nil {
			r.log.Warn().Err(err).Uint64("counter", record.Counter).Msg("durable store write failed")
		}
	}

	r.log.Debug().Uint64("counter", record.Counter).Int("compromiseQIs", len(record.CompromiseQIs)).
		Msg("published")

	return r.inner.Publish(record)
}

// Close releases the log file handles and the durable store, if any.
func (r *Recorder) Close() error {
	var firstErr error
	if r.tupleLog != nil {
		if err := r.tupleLog.Close(); err != nil {
			firstErr = err
		}
	}
	if r.delayLog != nil {
		if err := r.delayLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.store != nil {
		if err := r.store.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func formatTuple(record ecengine.PublishedRecord) string {
	out := "["
	for i, f := range record.Fields {
		if i > 0 {
			out += ", "
		}
		switch {
		case f.IsRange:
			out += fmt.Sprintf("%g, %g", f.Range.LBound, f.Range.UBound)
		case f.Value.IsNumber:
			out += fmt.Sprintf("%g", f.Value.Number)
		default:
			out += f.Value.Text
		}
	}
	return out + "]"
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // G302/G304: operator-supplied research-mode log path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

var durableBucket = []byte("published")

// durableStore persists published records to bbolt, keyed by the
// big-endian encoding of Counter, adapted from the teacher's
// internal/anonymizer/cache.go bboltCache (value->token) to
// counter->PublishedRecord.
type durableStore struct {
	db *bolt.DB
}

func newDurableStore(path string) (*durableStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(durableBucket)
		return err
	}); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &durableStore{db: db}, nil
}

func (s *durableStore) put(record ecengine.PublishedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, record.Counter)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(durableBucket).Put(key, data)
	})
}

func (s *durableStore) get(counter uint64) (ecengine.PublishedRecord, bool, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, counter)
	var out ecengine.PublishedRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(durableBucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &out)
	})
	return out, found, err
}

func (s *durableStore) close() error {
	return s.db.Close()
}
