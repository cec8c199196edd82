package highlight

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/metrics"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// DispatchFunc receives the set of node IDs that should be highlighted now.
// An empty or nil slice means "clear all highlights". The slice is a snapshot
// owned by the receiver.
type DispatchFunc func(nodes []string)

// Options tunes the scheduler. Zero values fall back to the reference
// constants: 10ms tick, 50ms debounce window, 1000ms quiet period.
type Options struct {
	TickInterval   time.Duration
	DebounceWindow time.Duration
	QuietPeriod    time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 10 * time.Millisecond
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 50 * time.Millisecond
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = 1000 * time.Millisecond
	}
	return o
}

// Scheduler drives diagram highlighting from the audio clock. Given a
// narration timeline it computes, on every tick, the set of nodes whose
// timing interval contains the current playback position, coalesces rapid
// successive changes through a debouncer, and clears highlights after a quiet
// period with no matching entries.
//
// Ticks only run while audio is playing. A backward seek resets the internal
// state and recomputes fresh rather than being treated as an error.
type Scheduler struct {
	opts     Options
	dispatch DispatchFunc
	debounce *Debouncer
	logger   *zap.Logger

	mu         sync.Mutex
	timeline   timing.Timeline
	lastTickMS int64
	hasTicked  bool
	lastSet    []string
	clearTimer *time.Timer

	posMS   int64
	posAt   time.Time
	playing bool

	stopCh  chan struct{}
	running bool
	stopped bool
}

// New creates a scheduler that reports highlight sets through dispatch.
func New(dispatch DispatchFunc, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Scheduler{
		opts:     opts,
		dispatch: dispatch,
		debounce: NewDebouncer(opts.DebounceWindow),
		logger:   logger,
	}
}

// SetTimeline replaces the narration timeline and resets the monotonic tick
// guard. The caller decides whether to also Clear current highlights.
func (s *Scheduler) SetTimeline(tl timing.Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = tl.Clone()
	s.hasTicked = false
	s.lastTickMS = 0
}

// Append extends the timeline with projected entries from the live path.
func (s *Scheduler) Append(entries timing.Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, entries...)
}

// Tick computes the highlight set for the given audio position and submits it
// for (debounced) dispatch when it differs from the previous set. It returns
// the computed set.
func (s *Scheduler) Tick(nowMS int64) []string {
	s.mu.Lock()

	if s.hasTicked && nowMS < s.lastTickMS {
		// The audio clock sought backward. Forget the previous set and
		// recompute fresh so the seek target's highlights dispatch cleanly.
		s.lastSet = nil
		s.stopClearTimerLocked()
	}
	s.lastTickMS = nowMS
	s.hasTicked = true

	set := s.timeline.ActiveNodes(nowMS)
	sort.Strings(set)
	for i := range s.timeline {
		if s.timeline[i].Contains(nowMS) {
			s.timeline[i].Processed = true
		}
	}

	if len(set) > 0 {
		s.stopClearTimerLocked()
		if !equalSets(set, s.lastSet) {
			s.lastSet = set
			s.submitLocked(set)
		}
	} else if len(s.lastSet) > 0 && s.clearTimer == nil {
		s.clearTimer = time.AfterFunc(s.opts.QuietPeriod, s.quietClear)
	}

	s.mu.Unlock()
	return set
}

// quietClear fires after the quiet period with no matching entries.
func (s *Scheduler) quietClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearTimer = nil
	if s.stopped || len(s.lastSet) == 0 {
		return
	}
	s.lastSet = nil
	s.submitLocked(nil)
}

// Clear dispatches an empty highlight set, for topic changes and session end.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopClearTimerLocked()
	if s.stopped {
		return
	}
	s.lastSet = nil
	s.submitLocked(nil)
}

// UpdatePosition feeds the audio playback clock. While playing, the run loop
// interpolates between updates using wall time.
func (s *Scheduler) UpdatePosition(posMS int64, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posMS = posMS
	s.posAt = time.Now()
	s.playing = playing
}

// Start launches the periodic tick loop. Starting an already-running or
// stopped scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.loop(s.stopCh)
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			playing := s.playing
			now := s.posMS
			if playing {
				now += time.Since(s.posAt).Milliseconds()
			}
			s.mu.Unlock()

			if !playing {
				continue
			}
			s.Tick(now)
		}
	}
}

// Stop shuts the scheduler down: the tick loop exits, pending debounce and
// clear timers are cancelled synchronously, and no dispatch fires afterward.
// Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.running = false
	s.stopped = true
	s.stopClearTimerLocked()
	s.mu.Unlock()

	s.debounce.Stop()
}

func (s *Scheduler) stopClearTimerLocked() {
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

// submitLocked hands a set to the debouncer. The debouncer keeps only the most
// recent submission, so bursts of interval boundaries within the window
// collapse to a single dispatch carrying the newest set.
func (s *Scheduler) submitLocked(set []string) {
	snapshot := append([]string(nil), set...)
	s.debounce.Call(func() {
		s.dispatch(snapshot)
		metrics.HighlightDispatchesTotal.Inc()
	})
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
