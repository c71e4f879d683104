// Package management provides a lightweight HTTP API for runtime
// inspection of the running k-anonymization engine.
//
// Endpoints:
//
//	GET  /status              - engine health, uptime, current EC counts
//	GET  /metrics             - Prometheus exposition format
//	GET  /metrics/json        - teacher-style JSON metrics snapshot
//	GET  /recent              - most recently published records (bounded cache)
//	POST /thresholds/set      - set a disclosure threshold {"qi":1,"values":[70,100,125]}
//	POST /thresholds/remove   - remove a disclosure threshold {"qi":1}
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wearable/kanon-streamer/internal/config"
	"github.com/wearable/kanon-streamer/internal/ecengine"
	"github.com/wearable/kanon-streamer/internal/logger"
	"github.com/wearable/kanon-streamer/internal/metrics"
)

// Server is the management API server.
type Server struct {
	cfg        *config.Config
	startTime  time.Time
	thresholds *ThresholdRegistry
	token      string // bearer token for auth; empty = no auth
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	recent     *recentCache
	engineInfo func() (ecCounts map[int]int, queueLen int, secondsToRefresh float64)
	log        *logger.Logger
}

// ThresholdRegistry holds the mutable set of per-QI disclosure-failure
// thresholds (the hardcoded value sets calc_DFR.py uses for glucose,
// systolic, and diastolic bands), generalized to apply to any QI index.
// It is shared between the DFR analyzer and the management server, and
// changes are persisted to disk via atomic file writes so runtime
// overrides survive restarts, mirroring the teacher's DomainRegistry.
type ThresholdRegistry struct {
	mu          sync.RWMutex
	thresholds  map[int][]float64
	persistPath string // empty = no persistence
}

// NewThresholdRegistry creates a registry seeded from defaults. If
// persistPath is non-empty and the file exists, its contents take
// precedence over defaults (it represents runtime overrides).
func NewThresholdRegistry(defaults map[int][]float64, persistPath string) *ThresholdRegistry {
	r := &ThresholdRegistry{
		thresholds:  make(map[int][]float64, len(defaults)),
		persistPath: persistPath,
	}

	if persistPath != "" {
		loaded, err := r.loadFromDisk()
		switch {
		case err == nil:
			r.thresholds = loaded
			return r
		case !os.IsNotExist(err):
			// fall through to defaults; caller's logger (if any) can surface this via Warnf
		}
	}

	for qi, values := range defaults {
		r.thresholds[qi] = append([]float64(nil), values...)
	}
	return r
}

// Get returns the threshold band for qi and whether one is registered.
func (r *ThresholdRegistry) Get(qi int) ([]float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.thresholds[qi]
	return v, ok
}

// Set registers (or replaces) the threshold band for qi and persists to disk.
func (r *ThresholdRegistry) Set(qi int, values []float64) {
	r.mu.Lock()
	r.thresholds[qi] = append([]float64(nil), values...)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Remove deletes the threshold band for qi and persists to disk.
func (r *ThresholdRegistry) Remove(qi int) {
	r.mu.Lock()
	delete(r.thresholds, qi)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// All returns a copy of every registered QI's threshold band.
func (r *ThresholdRegistry) All() map[int][]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *ThresholdRegistry) snapshotLocked() map[int][]float64 {
	out := make(map[int][]float64, len(r.thresholds))
	for qi, values := range r.thresholds {
		out[qi] = append([]float64(nil), values...)
	}
	return out
}

func (r *ThresholdRegistry) loadFromDisk() (map[int][]float64, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var raw map[string][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	out := make(map[int][]float64, len(raw))
	for k, v := range raw {
		qi, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[qi] = v
	}
	return out, nil
}

// persist writes the given snapshot to disk atomically (temp file + rename).
// It does not hold r.mu, so it won't block Get/All calls.
func (r *ThresholdRegistry) persist(thresholds map[int][]float64) {
	if r.persistPath == "" {
		return
	}

	raw := make(map[string][]float64, len(thresholds))
	for qi, v := range thresholds {
		raw[strconv.Itoa(qi)] = v
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".kanon-thresholds-*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil { // #nosec G703 -- paths from trusted config
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
	}
}

// New creates a management server. recentCapacity bounds the in-memory
// S3-FIFO cache of recently published records served by /recent; 0
// disables it. gatherer is the Prometheus registry /metrics scrapes from;
// nil disables the Prometheus endpoint.
func New(cfg *config.Config, thresholds *ThresholdRegistry, m *metrics.Metrics, gatherer prometheus.Gatherer,
	recentCapacity int, engineInfo func() (map[int]int, int, float64), log *logger.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		startTime:  time.Now(),
		thresholds: thresholds,
		token:      cfg.ManagementToken,
		metrics:    m,
		gatherer:   gatherer,
		engineInfo: engineInfo,
		log:        log,
	}
	if recentCapacity > 0 {
		s.recent = newRecentCache(recentCapacity)
	}
	if s.token != "" && log != nil {
		log.Info("management", "bearer token authentication enabled")
	}
	return s
}

// RecordPublished feeds a freshly published record into the /recent cache.
// A no-op if recentCapacity was 0 at construction.
func (s *Server) RecordPublished(rec ecengine.PublishedRecord) {
	if s.recent != nil {
		s.recent.Add(rec)
	}
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/metrics/json", s.handleMetricsJSON)
	mux.HandleFunc("/recent", s.handleRecent)
	mux.HandleFunc("/thresholds/set", s.handleSetThreshold)
	mux.HandleFunc("/thresholds/remove", s.handleRemoveThreshold)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			if s.log != nil {
				s.log.Warnf("management", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status           string      `json:"status"`
		Uptime           string      `json:"uptime"`
		ManagementPort   int         `json:"managementPort"`
		ECCounts         map[int]int `json:"ecCounts"`
		QueueLength      int         `json:"queueLength"`
		SecondsToRefresh float64     `json:"secondsToRefresh"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		ManagementPort: s.cfg.ManagementPort,
	}
	if s.engineInfo != nil {
		resp.ECCounts, resp.QueueLength, resp.SecondsToRefresh = s.engineInfo()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleRecent(w http.ResponseWriter, _ *http.Request) {
	if s.recent == nil {
		http.Error(w, "recent-records cache not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.recent.All())
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req struct {
		QI     int       `json:"qi"`
		Values []float64 `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Values) == 0 {
		http.Error(w, `invalid request: need {"qi":N,"values":[...]}`, http.StatusBadRequest)
		return
	}
	s.thresholds.Set(req.QI, req.Values)
	if s.log != nil {
		s.log.Infof("management", "set threshold band for qi=%d: %v", req.QI, req.Values)
	}
	writeJSON(w, http.StatusOK, map[string]any{"qi": req.QI, "values": req.Values})
}

func (s *Server) handleRemoveThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		QI int `json:"qi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `invalid request: need {"qi":N}`, http.StatusBadRequest)
		return
	}
	s.thresholds.Remove(req.QI)
	if s.log != nil {
		s.log.Infof("management", "removed threshold band for qi=%d", req.QI)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": req.QI})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort; client disconnect is not actionable
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	if s.log != nil {
		s.log.Infof("management", "listening on %s", addr)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
