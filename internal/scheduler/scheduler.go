// Package scheduler implements the scan scheduler (§4.6): the
// pending → running → {completed, failed, cancelled} state machine that
// drives a scan's three phases (walking, aggregating, grouping), publishes
// copy-on-publish progress snapshots, records per-phase metrics, and
// exposes cooperative cancellation.
//
// The scheduler owns ScanState exclusively; every other component only
// ever sees a snapshot copy (§5 "Scan state: owned by scheduler, observers
// read a snapshot"). Progress publication follows a pub-sub shape: one
// goroutine (the scan itself) drives phase transitions, any number of
// subscriber goroutines receive snapshots over a per-subscriber channel.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foldersim/simcore/internal/aggregator"
	"github.com/foldersim/simcore/internal/cache"
	"github.com/foldersim/simcore/internal/glob"
	"github.com/foldersim/simcore/internal/grouper"
	"github.com/foldersim/simcore/internal/pathnorm"
	"github.com/foldersim/simcore/internal/resource"
	"github.com/foldersim/simcore/internal/store"
	"github.com/foldersim/simcore/internal/types"
	"github.com/foldersim/simcore/internal/walker"
)

// Progress phase weights (§4.6: "0.55·walking + 0.20·aggregating +
// 0.25·grouping"). Kept as named constants rather than folded into the
// blend function so a caller tuning them can see the default at a glance.
const (
	walkingWeight     = 0.55
	aggregatingWeight = 0.20
	groupingWeight    = 0.25
)

const throughputWindow = 10 * time.Second

// Deps are the components a Scheduler wires together to run one scan.
// Cache and StorePath may be shared/empty respectively; a zero StorePath
// makes the aggregator spill to an ephemeral file cleaned up at scan end.
type Deps struct {
	Cache     *cache.Cache
	StorePath string
	Logger    *logrus.Logger
}

// Scheduler runs scans sequentially against a single admission slot (§5:
// "multiple concurrent scans share a global admission semaphore; default 1
// active scan").
type Scheduler struct {
	admission types.Semaphore
	deps      Deps

	mu      sync.Mutex
	state   *types.ScanState
	subs    map[int]chan types.ScanSnapshot
	nextSub int
	history []types.ScanSnapshot

	cancelled atomic.Bool
	walkRate  atomic.Int64 // files/sec over the trailing window, -1 if unknown
	cancelFn  context.CancelFunc
}

// New creates a Scheduler with the given admission concurrency (default 1
// active scan if n <= 0).
func New(deps Deps, admission int) *Scheduler {
	if admission <= 0 {
		admission = 1
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	sched := &Scheduler{admission: types.NewSemaphore(admission), deps: deps, subs: make(map[int]chan types.ScanSnapshot)}
	sched.walkRate.Store(-1)
	return sched
}

// Subscribe registers a progress observer and returns a channel of
// copy-on-publish snapshots plus an unsubscribe function.
func (s *Scheduler) Subscribe() (<-chan types.ScanSnapshot, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan types.ScanSnapshot, 64)
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}
}

// Cancel requests cooperative cancellation of the in-flight scan. It both
// flips the poll flag the walking phase checks at directory boundaries and
// cancels the context handed to the grouping phase's errgroup, so a cancel
// arriving mid-grouping is visible immediately rather than only once
// control returns to Run (§5 cancellation latency).
func (s *Scheduler) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	cancel := s.cancelFn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WalkRate returns the walking phase's trailing files/sec throughput, or
// -1 if not enough history has accumulated yet to estimate it (§4.6 ETA).
func (s *Scheduler) WalkRate() int64 { return s.walkRate.Load() }

// RecentScans returns snapshots of finished scans (completed, failed or
// cancelled), most recent first
// (SUPPLEMENTED FEATURE, grounded on the reference implementation's scan
// job listing).
func (s *Scheduler) RecentScans() []types.ScanSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ScanSnapshot, len(s.history))
	copy(out, s.history)
	return out
}

// Run executes one scan end-to-end: walking, aggregating, grouping. It
// blocks for the scan's full duration; callers that want progress updates
// should call Subscribe before Run, or from another goroutine.
func (s *Scheduler) Run(ctx context.Context, req types.ScanRequest) (*types.ScanReport, error) {
	s.admission.Acquire()
	defer s.admission.Release()

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelFn = nil
		s.mu.Unlock()
		cancel()
	}()

	scanID := uuid.NewString()
	state := &types.ScanState{
		ScanID:   scanID,
		RootPath: req.RootPath,
		Status:   types.StatusPending,
		Request:  req,
	}
	s.setState(state)

	log := s.deps.Logger.WithField("scan_id", scanID)

	root, err := pathnorm.ResolveRoot(req.RootPath)
	if err != nil {
		s.finishFailed(state, err)
		return nil, err
	}
	norm := pathnorm.New(root, req.ForceCaseInsensitive)

	exclude := req.Exclude
	if len(exclude) == 0 {
		exclude = glob.DefaultExcludes(".quarantine")
	}
	matcher := glob.New(req.Include, exclude)

	state.Status = types.StatusRunning
	s.publish(state, nil)

	var samples []types.ResourceSample

	// --- Phase: walking ---
	walkStart := time.Now()
	state.Phase = types.PhaseWalking
	log.WithField("phase", types.PhaseWalking).Info("scan phase starting")
	w := walker.New(walker.Config{
		Norm:                 norm,
		Matcher:              matcher,
		Equality:             req.FileEquality,
		StructurePolicy:      req.StructurePolicy,
		Concurrency:          req.Concurrency,
		Cache:                s.deps.Cache,
		Logger:               s.deps.Logger,
		ForceCaseInsensitive: req.ForceCaseInsensitive,
	})

	walkDone := make(chan struct{})
	go s.trackWalkProgress(state, w, walkDone)

	walkResult, err := w.Run(ctx)
	close(walkDone)
	if s.cancelled.Load() {
		s.finishCancelled(state)
		return nil, fmt.Errorf("cancelled")
	}
	if err != nil {
		s.finishFailed(state, err)
		return nil, err
	}
	samples = append(samples, resource.Sample())
	s.recordPhase(state, types.PhaseWalking, walkStart, walkResult.Stats, samples[len(samples)-1])
	state.Warnings = append(state.Warnings, walkResult.Warnings...)

	if s.cancelled.Load() {
		s.finishCancelled(state)
		return nil, fmt.Errorf("cancelled")
	}

	// --- Phase: aggregating ---
	aggStart := time.Now()
	state.Phase = types.PhaseAggregating
	log.WithField("phase", types.PhaseAggregating).Info("scan phase starting")
	st, err := store.Open(s.deps.StorePath)
	if err != nil {
		s.finishFailed(state, err)
		return nil, err
	}
	defer func() { _ = st.Close() }()

	total := len(walkResult.Folders)
	s.publishPhaseProgress(state, types.PhaseAggregating, 0, total)

	agg := aggregator.New(st, req.StructurePolicy)
	aggResult, err := agg.Run(walkResult)
	if err != nil {
		s.finishFailed(state, err)
		return nil, err
	}
	s.publishPhaseProgress(state, types.PhaseAggregating, total, total)
	samples = append(samples, resource.Sample())
	s.recordPhase(state, types.PhaseAggregating, aggStart, nil, samples[len(samples)-1])

	if s.cancelled.Load() {
		s.finishCancelled(state)
		return nil, fmt.Errorf("cancelled")
	}

	// --- Phase: grouping ---
	groupStart := time.Now()
	state.Phase = types.PhaseGrouping
	log.WithField("phase", types.PhaseGrouping).Info("scan phase starting")
	threshold := req.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.80
	}
	gr := grouper.New(grouper.Config{Threshold: threshold})
	groups, err := gr.Run(ctx, aggResult.Folders)
	if err != nil {
		if s.cancelled.Load() {
			s.finishCancelled(state)
			return nil, fmt.Errorf("cancelled")
		}
		s.finishFailed(state, err)
		return nil, err
	}
	samples = append(samples, resource.Sample())
	s.recordPhase(state, types.PhaseGrouping, groupStart, nil, samples[len(samples)-1])

	report := &types.ScanReport{
		ScanID:          scanID,
		RootPath:        req.RootPath,
		Groups:          groups,
		FolderIndexRef:  st.Path(),
		Metrics:         state.Phases,
		ResourceSamples: samples,
		Warnings:        state.Warnings,
	}

	state.Phase = types.PhaseDone
	state.Status = types.StatusCompleted
	state.Report = report
	s.publish(state, nil)
	s.archive(state)

	log.WithField("groups", len(groups)).Info("scan completed")
	return report, nil
}

func (s *Scheduler) setState(state *types.ScanState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) finishFailed(state *types.ScanState, err error) {
	state.Status = types.StatusFailed
	state.Warnings = append(state.Warnings, types.Warning{Type: types.WarningIOError, Message: err.Error()})
	s.publish(state, nil)
	s.archive(state)
}

func (s *Scheduler) finishCancelled(state *types.ScanState) {
	state.Status = types.StatusCancelled
	state.Report = nil
	s.publish(state, nil)
	s.archive(state)
}

// progress blends the three phase fractions per §4.6's weighted model.
func progress(walking, aggregating, grouping *float64) *float64 {
	if walking == nil {
		return nil
	}
	total := walkingWeight * *walking
	if aggregating != nil {
		total += aggregatingWeight * *aggregating
	}
	if grouping != nil {
		total += groupingWeight * *grouping
	}
	return &total
}

func (s *Scheduler) publish(state *types.ScanState, frac *float64) {
	snapshot := types.ScanSnapshot{
		ScanID:   state.ScanID,
		Status:   state.Status,
		Phase:    state.Phase,
		Phases:   append([]types.PhaseTiming(nil), state.Phases...),
		Stats:    state.Stats,
		Warnings: append([]types.Warning(nil), state.Warnings...),
		LastPath: state.LastPath,
		Progress: frac,
	}

	s.mu.Lock()
	subs := make([]chan types.ScanSnapshot, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default: // a slow subscriber must never block the scan (§5 progress ordering)
		}
	}
}

func (s *Scheduler) publishPhaseProgress(state *types.ScanState, phase types.Phase, processed, total int) {
	state.Phase = phase
	var frac *float64
	if total > 0 {
		f := float64(processed) / float64(total)
		frac = &f
	}
	s.publish(state, progressForPhase(phase, frac))
}

// progressForPhase maps a single phase's own fraction into the overall
// weighted blend, treating the phases before it as complete (1.0) and
// the phases after it as not yet contributing (nil).
func progressForPhase(phase types.Phase, frac *float64) *float64 {
	switch phase {
	case types.PhaseWalking:
		return progress(frac, nil, nil)
	case types.PhaseAggregating:
		complete := 1.0
		return progress(&complete, frac, nil)
	case types.PhaseGrouping:
		complete := 1.0
		return progress(&complete, &complete, frac)
	default:
		return nil
	}
}

// trackWalkProgress polls the walker's stats and last-touched path and
// republishes snapshots until walkDone closes. Walking progress has no
// reliable total up front (§4.6: "if unknowable, reported as null"), so
// this always reports indeterminate progress but keeps last_path and
// stats fresh for observers.
func (s *Scheduler) trackWalkProgress(state *types.ScanState, w *walker.Walker, done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var history []throughputSample
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.cancelled.Load() {
				w.Cancel()
			}
			state.LastPath = w.LastPath()
			state.Stats = w.Stats()
			history = append(history, throughputSample{at: time.Now(), files: state.Stats.FilesScanned})
			history = trimWindow(history, throughputWindow)
			s.walkRate.Store(estimateRate(history))
			s.publish(state, nil)
		}
	}
}

type throughputSample struct {
	at    time.Time
	files int64
}

func trimWindow(samples []throughputSample, window time.Duration) []throughputSample {
	cutoff := time.Now().Add(-window)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}

// estimateRate derives files/sec from the trailing window (§4.6 ETA),
// exposed through WalkRate; it returns -1 when too little history has
// accumulated to estimate.
func estimateRate(samples []throughputSample) int64 {
	if len(samples) < 2 {
		return -1
	}
	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return -1
	}
	rate := float64(last.files-first.files) / elapsed
	if rate <= 0 {
		return -1
	}
	return int64(rate)
}

func (s *Scheduler) recordPhase(state *types.ScanState, phase types.Phase, start time.Time, stats *types.Stats, sample types.ResourceSample) {
	timing := types.PhaseTiming{
		Phase:        phase,
		StartTime:    start,
		EndTime:      time.Now(),
		PeakRSSBytes: sample.ProcessRSSBytes,
	}
	if stats != nil {
		timing.FoldersProcessed = stats.FoldersScanned
		timing.FilesProcessed = stats.FilesScanned
		timing.BytesScannedDelta = stats.BytesScanned
		timing.WorkersActive = stats.Workers
	}
	state.Phases = append(state.Phases, timing)
}

func (s *Scheduler) archive(state *types.ScanState) {
	snapshot := types.ScanSnapshot{
		ScanID:   state.ScanID,
		Status:   state.Status,
		Phase:    state.Phase,
		Phases:   append([]types.PhaseTiming(nil), state.Phases...),
		Stats:    state.Stats,
		Warnings: append([]types.Warning(nil), state.Warnings...),
	}
	s.mu.Lock()
	s.history = append([]types.ScanSnapshot{snapshot}, s.history...)
	s.mu.Unlock()
}
