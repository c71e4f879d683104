package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wearable/kanon-streamer/internal/config"
	"github.com/wearable/kanon-streamer/internal/ecengine"
	"github.com/wearable/kanon-streamer/internal/experiment"
	"github.com/wearable/kanon-streamer/internal/logger"
	"github.com/wearable/kanon-streamer/internal/management"
	"github.com/wearable/kanon-streamer/internal/metrics"
	"github.com/wearable/kanon-streamer/internal/sink"
)

func newStreamCmd() *cobra.Command {
	var paramsPath, inputPath, outputPath string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Ingest a CSV tuple feed through the k-anonymization engine",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStream(paramsPath, inputPath, outputPath)
		},
	}
	cmd.Flags().StringVar(&paramsPath, "params", "", "path to the YAML params file (spec §6.1)")
	cmd.Flags().StringVar(&inputPath, "input", "", "path to a CSV file of sensor tuples, one per line")
	cmd.Flags().StringVar(&outputPath, "output", "", "path to write published records as JSON lines (defaults to stdout text)")
	return cmd
}

func runStream(paramsPath, inputPath, outputPath string) error {
	cfg, err := config.Load(paramsPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("STREAM", cfg.LogLevel)

	var publishSink ecengine.Sink
	if outputPath != "" {
		fileSink, err := sink.NewFile(outputPath)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer fileSink.Close()
		publishSink = fileSink
	} else {
		publishSink = sink.NewStdout()
	}

	reg := prometheus.NewRegistry()

	var eng *ecengine.Engine
	m := metrics.New(reg, func() float64 { return float64(eng.QueueLen()) })

	mgmtSrv := management.New(cfg, management.NewThresholdRegistry(nil, ""), m, reg, 256,
		func() (map[int]int, int, float64) {
			return eng.ECCounts(), eng.QueueLen(), eng.SecondsToRefresh()
		}, log)

	instrumentedSink := &countingSink{inner: publishSink, metrics: m, mgmt: mgmtSrv}

	var recorder *experiment.Recorder
	if cfg.ExperimentMode {
		recorder, err = experiment.New(instrumentedSink, cfg.ExperimentTupleLog, cfg.ExperimentDelayLog,
			zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
		if err != nil {
			return fmt.Errorf("init experiment recorder: %w", err)
		}
		if cfg.ExperimentDBPath != "" {
			if err := recorder.WithDurableStore(cfg.ExperimentDBPath); err != nil {
				return fmt.Errorf("init durable store: %w", err)
			}
		}
		defer recorder.Close()
	}

	var finalSink ecengine.Sink = instrumentedSink
	if recorder != nil {
		finalSink = recorder
	}

	eng = ecengine.New(ecengine.Params{
		QIPos:                      cfg.QIPos,
		SIPos:                      cfg.SIPos,
		GeneralizeRange:            cfg.GeneralizeRange,
		AccumulationDelayTolerance: cfg.AccumulationDelayTolerance,
		RefreshTimer:               cfg.RefreshTimer(),
		ThresholdK:                 cfg.ThresholdK,
		ECMaxHoldingMembers:        cfg.ECMaxHoldingMembers,
	}, finalSink, engineOpts(cfg, m)...)

	go func() {
		if err := mgmtSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("management", "fatal: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("stream", "shutting down")
		cancel()
	}()

	if inputPath == "" {
		return fmt.Errorf("--input is required")
	}
	return streamInputFile(ctx, eng, m, recorder, inputPath, cfg.QIPos, log)
}

// streamInputFile reads a CSV feed, casting QI fields to float64 and
// passing every other field through as text, calling Ingest in arrival
// order with an explicit counter — resolving spec §9's Open Question
// about stream_input's missing tuple_counter by never reproducing an
// implicit one. A QI field that fails to parse as a number is fatal
// (spec §6.5: exit non-zero on parse or config error), not a skip — the
// counter must stay in lockstep with records actually passed to Ingest.
func streamInputFile(ctx context.Context, eng *ecengine.Engine, m *metrics.Metrics,
	recorder *experiment.Recorder, path string, qiPos []int, log *logger.Logger) error {
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied input path
	if err != nil {
		return fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	qiSet := make(map[int]bool, len(qiPos))
	for _, qi := range qiPos {
		qiSet[qi] = true
	}

	scanner := bufio.NewScanner(f)
	var counter uint64
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		raw := strings.Split(line, ",")
		fields := make([]ecengine.Value, len(raw))
		for i, tok := range raw {
			tok = strings.TrimSpace(tok)
			if qiSet[i] {
				f, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return fmt.Errorf("counter=%d: invalid QI field %d: %w", counter, i, err)
				}
				fields[i] = ecengine.NumberValue(f)
			} else {
				fields[i] = ecengine.TextValue(tok)
			}
		}

		if recorder != nil {
			recorder.RecordArrival(counter)
		}

		start := time.Now()
		if err := eng.Ingest(counter, fields); err != nil {
			m.RecordInputError()
			log.Errorf("stream", "counter=%d: %v", counter, err)
		} else {
			m.RecordIngest()
		}
		m.RecordFitLatency(time.Since(start))

		counter++
	}
	return scanner.Err()
}

func engineOpts(cfg *config.Config, m *metrics.Metrics) []ecengine.Option {
	var opts []ecengine.Option
	if cfg.RandomSeed != 0 {
		opts = append(opts, ecengine.WithSeed(cfg.RandomSeed))
	}
	opts = append(opts, ecengine.WithLogger(logger.New("EC", cfg.LogLevel)))
	opts = append(opts, ecengine.WithOnRefresh(m.RecordRefresh), ecengine.WithOnForceExtend(m.RecordForceExtend))
	return opts
}

// countingSink wraps the configured publication sink so every publish is
// reflected in metrics and fed into the management /recent cache,
// without ecengine itself needing to know about either concern.
type countingSink struct {
	inner   ecengine.Sink
	metrics *metrics.Metrics
	mgmt    *management.Server
}

func (s *countingSink) Publish(record ecengine.PublishedRecord) error {
	s.metrics.RecordPublish(len(record.CompromiseQIs) > 0)
	s.mgmt.RecordPublished(record)
	return s.inner.Publish(record)
}
