// Package sink provides ecengine.Sink implementations for transmitting
// published, k-anonymized records off the device. Spec §6 treats the
// actual transmission channel as an external concern specified only by
// interface; these are the two concrete collaborators this codebase
// ships, grounded on the teacher's small-interface-at-construction
// pattern (anonymizer.PersistentCache).
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/wearable/kanon-streamer/internal/ecengine"
)

// Stdout publishes each record as a line of text to the given writer,
// mirroring original_source's print("Transmitted : ", rawstring).
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout returns a Stdout sink writing to os.Stdout.
func NewStdout() *Stdout { return &Stdout{w: os.Stdout} }

// NewStdoutTo returns a Stdout sink writing to an arbitrary writer, for tests.
func NewStdoutTo(w io.Writer) *Stdout { return &Stdout{w: w} }

// Publish writes one line per record in the form "Transmitted : <fields>".
func (s *Stdout) Publish(record ecengine.PublishedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, "Transmitted : "+formatFields(record))
	return err
}

func formatFields(record ecengine.PublishedRecord) string {
	out := ""
	for i, f := range record.Fields {
		if i > 0 {
			out += ", "
		}
		switch {
		case f.IsRange:
			out += fmt.Sprintf("[%g-%g)", f.Range.LBound, f.Range.UBound)
		case f.Value.IsNumber:
			out += fmt.Sprintf("%g", f.Value.Number)
		default:
			out += f.Value.Text
		}
	}
	return out
}

// File appends each published record as a JSON line to a file on disk —
// the deployable analogue of a device's transmission primitive, for
// operators who want a durable record of what left the device without
// standing up a network sink.
type File struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFile opens (creating if needed) path for append and returns a File sink.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // G302/G304: operator-supplied output path
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}
	return &File{f: f, enc: json.NewEncoder(f)}, nil
}

// Publish appends record as a JSON line.
func (s *File) Publish(record ecengine.PublishedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(record)
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
