package estimator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/timing"
)

// Reference constants for the live narration path. Projected timings are
// heuristic: they approximate where speech will be until the audio clock
// supplies ground truth, at which point Anchor corrects the unplayed tail.
const (
	defaultRateMS = 400 // ms per word at ~150 wpm
	wordGapMS     = 50  // silence between consecutive words
	speechLeadMS  = 800 // text arrives ahead of audio by roughly this much
	anchorPadMS   = 200 // safety margin added when re-anchoring

	minRateMS = 200 // calibration acceptance band, ms per word
	maxRateMS = 500

	calibrationWords = 10 // recalibrate after this many words...
	calibrationSpan  = 2000 * time.Millisecond

	rateWindow = 5 // rolling mean over this many accepted samples
)

// MatchFunc maps a spoken word to a diagram node ID, or "" for no match.
type MatchFunc func(word string) string

// Estimator projects per-word timings for streamed speech whose exact timing
// is unknown, self-tuning its ms-per-word rate from observed arrival cadence.
type Estimator struct {
	match  MatchFunc
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	rateMS  float64
	samples []float64

	// current calibration batch
	batchWords int
	batchStart time.Time

	cursorMS int64 // next word's start position
	started  bool
	anchored bool
	entries  timing.Timeline
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithMatcher sets the word-to-node matcher used to tag projected entries.
func WithMatcher(m MatchFunc) Option {
	return func(e *Estimator) { e.match = m }
}

// withNow overrides the wall clock, for tests.
func withNow(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// New creates an estimator starting at the default speech rate.
func New(logger *zap.Logger, opts ...Option) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Estimator{
		logger: logger,
		now:    time.Now,
		rateMS: defaultRateMS,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RateMS returns the current ms-per-word estimate.
func (e *Estimator) RateMS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateMS
}

// Observe projects timings for newly streamed words and returns the new
// entries. Each word's duration is the current rate scaled by a length factor
// clamped to [0.8, 1.5]; words are placed sequentially with a small gap. The
// first observation is anchored at wall-clock zero plus the speech lead
// offset, until Anchor supplies the real audio start.
func (e *Estimator) Observe(words []string) timing.Timeline {
	if len(words) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.started {
		e.started = true
		e.cursorMS = speechLeadMS
		e.batchStart = now
	}

	var out timing.Timeline
	for _, w := range words {
		if w == "" {
			continue
		}
		factor := float64(len(w)) / 5
		if factor < 0.8 {
			factor = 0.8
		} else if factor > 1.5 {
			factor = 1.5
		}
		dur := int64(e.rateMS * factor)

		entry := timing.Entry{
			Word:       w,
			StartMS:    e.cursorMS,
			EndMS:      e.cursorMS + dur,
			DurationMS: dur,
		}
		if e.match != nil {
			entry.NodeID = e.match(w)
		}
		out = append(out, entry)
		e.cursorMS = entry.EndMS + wordGapMS
		e.batchWords++
	}
	e.entries = append(e.entries, out...)

	e.recalibrateLocked(now)
	return out
}

// recalibrateLocked folds the current batch into the rolling rate estimate
// once enough words have arrived over enough time. Samples outside the
// acceptance band are discarded as noise and never change the rate.
func (e *Estimator) recalibrateLocked(now time.Time) {
	if e.batchWords < calibrationWords {
		return
	}
	elapsed := now.Sub(e.batchStart)
	if elapsed < calibrationSpan {
		return
	}

	sample := float64(elapsed.Milliseconds()) / float64(e.batchWords)
	if sample >= minRateMS && sample <= maxRateMS {
		e.samples = append(e.samples, sample)
		if len(e.samples) > rateWindow {
			e.samples = e.samples[len(e.samples)-rateWindow:]
		}
		var sum float64
		for _, s := range e.samples {
			sum += s
		}
		e.rateMS = sum / float64(len(e.samples))
		e.logger.Debug("speech rate recalibrated",
			zap.Float64("sampleMS", sample),
			zap.Float64("rateMS", e.rateMS),
		)
	} else {
		e.logger.Debug("speech rate sample outside band, discarded",
			zap.Float64("sampleMS", sample),
		)
	}

	e.batchWords = 0
	e.batchStart = now
}

// Anchor shifts every not-yet-processed entry once the audio element reports
// its real start position. Processed entries keep their original timestamps:
// correcting the past would visibly backtrack highlights.
func (e *Estimator) Anchor(actualStartMS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anchored || !e.started {
		return
	}
	e.anchored = true

	delta := actualStartMS - speechLeadMS + anchorPadMS
	if delta == 0 {
		return
	}
	for i := range e.entries {
		if e.entries[i].Processed {
			continue
		}
		e.entries[i].StartMS += delta
		e.entries[i].EndMS += delta
	}
	e.cursorMS += delta

	e.logger.Debug("projected timings anchored",
		zap.Int64("actualStartMS", actualStartMS),
		zap.Int64("deltaMS", delta),
	)
}

// MarkPlayed flags entries fully behind the playback position as processed,
// freezing their timestamps against later anchor corrections.
func (e *Estimator) MarkPlayed(posMS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.entries {
		if e.entries[i].EndMS <= posMS {
			e.entries[i].Processed = true
		}
	}
}

// Timeline returns a snapshot of all projected entries.
func (e *Estimator) Timeline() timing.Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries.Clone()
}

// Reset clears projections and calibration batches but keeps the learned
// rate, which remains a better starting point than the default.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	e.started = false
	e.anchored = false
	e.cursorMS = 0
	e.batchWords = 0
}
