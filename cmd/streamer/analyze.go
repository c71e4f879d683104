package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wearable/kanon-streamer/internal/dfr"
	"github.com/wearable/kanon-streamer/internal/management"
)

func newAnalyzeCmd() *cobra.Command {
	var datasetPath, publishedPath, thresholdsFile string
	var thresholdFlags []string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute disclosure-failure rates for a published-record log against the original dataset",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAnalyze(datasetPath, publishedPath, thresholdsFile, thresholdFlags)
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "path to the original (pre-anonymization) CSV dataset")
	cmd.Flags().StringVar(&publishedPath, "published", "", "path to the published-record JSON-lines log")
	cmd.Flags().StringVar(&thresholdsFile, "thresholds-file", "",
		"optional JSON file of per-QI threshold bands, same format management's /thresholds endpoints persist")
	cmd.Flags().StringArrayVar(&thresholdFlags, "threshold", nil,
		`a QI threshold band as "qi:v1,v2,v3" (repeatable), e.g. --threshold "0:70,100,125"`)
	return cmd
}

func runAnalyze(datasetPath, publishedPath, thresholdsFile string, thresholdFlags []string) error {
	if datasetPath == "" || publishedPath == "" {
		return fmt.Errorf("--dataset and --published are required")
	}

	thresholds, err := loadThresholds(thresholdsFile, thresholdFlags)
	if err != nil {
		return err
	}
	if len(thresholds) == 0 {
		return fmt.Errorf("no thresholds configured: pass --threshold or --thresholds-file")
	}

	dataset, err := dfr.LoadDataset(datasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	published, err := dfr.LoadPublished(publishedPath)
	if err != nil {
		return fmt.Errorf("load published log: %w", err)
	}

	results := dfr.Compute(dataset, published, thresholds)
	summaries := dfr.Summarize(results)

	return json.NewEncoder(os.Stdout).Encode(struct {
		Results    []dfr.Result    `json:"results"`
		Summaries  []dfr.QISummary `json:"summaries"`
		TotalTuple int             `json:"totalPublished"`
	}{Results: results, Summaries: summaries, TotalTuple: len(published)})
}

// loadThresholds merges a persisted thresholds file (if given) with
// --threshold flags, which take precedence per QI — the same override
// semantics management.ThresholdRegistry applies at runtime.
func loadThresholds(thresholdsFile string, flags []string) (map[int][]float64, error) {
	var thresholds map[int][]float64
	if thresholdsFile != "" {
		thresholds = management.NewThresholdRegistry(nil, thresholdsFile).All()
	} else {
		thresholds = make(map[int][]float64)
	}

	for _, raw := range flags {
		qi, values, err := parseThresholdFlag(raw)
		if err != nil {
			return nil, err
		}
		thresholds[qi] = values
	}
	return thresholds, nil
}

func parseThresholdFlag(raw string) (int, []float64, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf(`invalid --threshold %q: want "qi:v1,v2,..."`, raw)
	}
	qi, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid --threshold %q: qi must be an integer: %w", raw, err)
	}
	tokens := strings.Split(parts[1], ",")
	values := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid --threshold %q: %w", raw, err)
		}
		values = append(values, v)
	}
	return qi, values, nil
}
