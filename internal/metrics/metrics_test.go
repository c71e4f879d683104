package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New(prometheus.NewRegistry(), nil)
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestSnapshot_ZeroCountersAfterNew(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	s := m.Snapshot()
	if s.Ingest != 0 || s.Publish != 0 || s.Compromise != 0 {
		t.Errorf("expected all-zero snapshot, got %+v", s)
	}
}

func TestRecordIngest(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordIngest()
	m.RecordIngest()
	m.RecordIngest()

	s := m.Snapshot()
	if s.Ingest != 3 {
		t.Errorf("Ingest: got %d, want 3", s.Ingest)
	}
}

func TestRecordPublish_NormalDoesNotIncrementCompromise(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordPublish(false)
	m.RecordPublish(false)

	s := m.Snapshot()
	if s.Publish != 2 {
		t.Errorf("Publish: got %d, want 2", s.Publish)
	}
	if s.Compromise != 0 {
		t.Errorf("Compromise: got %d, want 0", s.Compromise)
	}
}

func TestRecordPublish_CompromiseIncrementsBoth(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordPublish(true)

	s := m.Snapshot()
	if s.Publish != 1 {
		t.Errorf("Publish: got %d, want 1", s.Publish)
	}
	if s.Compromise != 1 {
		t.Errorf("Compromise: got %d, want 1", s.Compromise)
	}
}

func TestRecordRefreshAndForceExtendAndInputError(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordRefresh()
	m.RecordForceExtend()
	m.RecordForceExtend()
	m.RecordInputError()

	s := m.Snapshot()
	if s.Refresh != 1 {
		t.Errorf("Refresh: got %d, want 1", s.Refresh)
	}
	if s.ForceExtend != 2 {
		t.Errorf("ForceExtend: got %d, want 2", s.ForceExtend)
	}
	if s.InputErrors != 1 {
		t.Errorf("InputErrors: got %d, want 1", s.InputErrors)
	}
}

func TestRecordFitLatency_SingleSample(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordFitLatency(2 * time.Millisecond)

	s := m.Snapshot()
	if s.FitLatency.Count != 1 {
		t.Errorf("Count: got %d, want 1", s.FitLatency.Count)
	}
	if s.FitLatency.MinMs < 1.5 || s.FitLatency.MinMs > 2.5 {
		t.Errorf("MinMs: got %f, want ~2", s.FitLatency.MinMs)
	}
}

func TestRecordFitLatency_MinMaxMean(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	m.RecordFitLatency(1 * time.Millisecond)
	m.RecordFitLatency(3 * time.Millisecond)
	m.RecordFitLatency(2 * time.Millisecond)

	s := m.Snapshot()
	ls := s.FitLatency
	if ls.Count != 3 {
		t.Errorf("Count: got %d, want 3", ls.Count)
	}
	if ls.MinMs > 1.5 {
		t.Errorf("MinMs too high: %f", ls.MinMs)
	}
	if ls.MaxMs < 2.5 {
		t.Errorf("MaxMs too low: %f", ls.MaxMs)
	}
	if ls.MeanMs < 1.5 || ls.MeanMs > 2.5 {
		t.Errorf("MeanMs: got %f, want ~2", ls.MeanMs)
	}
}

func TestSnapshotLatency_EmptyIsZeroValue(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	s := m.Snapshot()
	if s.FitLatency.Count != 0 {
		t.Errorf("empty fit latency count should be 0")
	}
}

func TestSnapshot_UptimePositive(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	time.Sleep(5 * time.Millisecond)
	s := m.Snapshot()
	if s.UptimeSecs <= 0 {
		t.Errorf("UptimeSecs should be positive, got %f", s.UptimeSecs)
	}
}

func TestQueueLenGaugeFunc_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = New(reg, func() float64 { return 4 })
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "kanon_queue_length" {
			found = true
		}
	}
	if !found {
		t.Error("expected kanon_queue_length to be registered")
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		got := round2(c.input)
		if got != c.want {
			t.Errorf("round2(%f) = %f, want %f", c.input, got, c.want)
		}
	}
}

func TestLatencyStats_Record(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	snap := s.snapshot()
	if snap.Count != 3 {
		t.Errorf("Count: got %d, want 3", snap.Count)
	}
	if snap.MinMs != 10 {
		t.Errorf("MinMs: got %f, want 10", snap.MinMs)
	}
	if snap.MaxMs != 20 {
		t.Errorf("MaxMs: got %f, want 20", snap.MaxMs)
	}
	if snap.MeanMs != 15 {
		t.Errorf("MeanMs: got %f, want 15", snap.MeanMs)
	}
}

func TestLatencyStats_Empty(t *testing.T) {
	var s latencyStats
	snap := s.snapshot()
	if snap.Count != 0 || snap.MinMs != 0 || snap.MaxMs != 0 || snap.MeanMs != 0 {
		t.Errorf("empty stats snapshot should be zero, got %+v", snap)
	}
}
