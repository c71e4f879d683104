// Package dfr ports original_source's calc_DFR.py disclosure-failure-rate
// analyzer (spec §6.6): for a set of configurable sensitive thresholds per
// QI, it counts how often each threshold lies strictly inside a published
// record's range for a matching original dataset row, dividing by the
// total number of published records. It is an offline tool spec.md
// explicitly places outside the core engine, but still pins down the
// interface for — this package is never imported by internal/ecengine.
package dfr

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wearable/kanon-streamer/internal/ecengine"
	"gonum.org/v1/gonum/stat"
)

// DatasetRow is one row of the original, pre-anonymization dataset. The
// last field is the identity token used to match a dataset row to the
// published record it produced.
type DatasetRow struct {
	Fields   []string
	Identity string
}

// LoadDataset reads a CSV file (comma-separated, no header) into rows,
// matching original_source's "dataset.csv" reader.
func LoadDataset(path string) ([]DatasetRow, error) {
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied dataset path
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	var rows []DatasetRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, DatasetRow{Fields: fields, Identity: fields[len(fields)-1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dataset %s: %w", path, err)
	}
	return rows, nil
}

// LoadPublished reads a file of newline-delimited JSON
// ecengine.PublishedRecord values, the format internal/sink.File writes.
func LoadPublished(path string) ([]ecengine.PublishedRecord, error) {
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied published-log path
	if err != nil {
		return nil, fmt.Errorf("open published log %s: %w", path, err)
	}
	defer f.Close()

	var out []ecengine.PublishedRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec ecengine.PublishedRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode published record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// identityOf returns the passthrough field the analyzer uses to join a
// published record back to its dataset row: the last non-range field.
func identityOf(rec ecengine.PublishedRecord) (string, bool) {
	for i := len(rec.Fields) - 1; i >= 0; i-- {
		f := rec.Fields[i]
		if f.IsRange {
			continue
		}
		if f.Value.IsNumber {
			return strconv.FormatFloat(f.Value.Number, 'g', -1, 64), true
		}
		return f.Value.Text, true
	}
	return "", false
}

// Result holds the disclosure-failure rate for one QI/threshold pair.
type Result struct {
	QI        int
	Threshold float64
	Failures  int64
	Total     int64
	Rate      float64
}

// QISummary aggregates a QI's per-threshold rates into one mean rate,
// using gonum/stat rather than a hand-rolled sum/len division.
type QISummary struct {
	QI       int
	MeanRate float64
	StdDev   float64
}

// Compute counts, for every QI in thresholds and every threshold value in
// its band, how many published records straddle that threshold
// (range.LBound < threshold < range.UBound) for a record whose identity
// token matches a dataset row, then divides by total published records —
// matching calc_DFR.py's fail_X / total_tuples division exactly.
func Compute(dataset []DatasetRow, published []ecengine.PublishedRecord, thresholds map[int][]float64) []Result {
	identities := make(map[string]bool, len(dataset))
	for _, row := range dataset {
		identities[row.Identity] = true
	}

	total := int64(len(published))
	var results []Result

	for qi, band := range thresholds {
		for _, threshold := range band {
			var failures int64
			for _, rec := range published {
				id, ok := identityOf(rec)
				if !ok || !identities[id] {
					continue
				}
				rng, ok := rec.QIRanges[qi]
				if !ok {
					continue
				}
				if rng.LBound < threshold && threshold < rng.UBound {
					failures++
				}
			}
			rate := 0.0
			if total > 0 {
				rate = float64(failures) / float64(total)
			}
			results = append(results, Result{QI: qi, Threshold: threshold, Failures: failures, Total: total, Rate: rate})
		}
	}
	return results
}

// Summarize reduces per-threshold Results down to one mean +/- stddev
// disclosure-failure rate per QI, via gonum/stat.MeanStdDev.
func Summarize(results []Result) []QISummary {
	byQI := make(map[int][]float64)
	var order []int
	for _, r := range results {
		if _, seen := byQI[r.QI]; !seen {
			order = append(order, r.QI)
		}
		byQI[r.QI] = append(byQI[r.QI], r.Rate)
	}

	out := make([]QISummary, 0, len(order))
	for _, qi := range order {
		rates := byQI[qi]
		var mean, std float64
		if len(rates) == 1 {
			mean = rates[0]
		} else {
			mean, std = stat.MeanStdDev(rates, nil)
		}
		out = append(out, QISummary{QI: qi, MeanRate: mean, StdDev: std})
	}
	return out
}
