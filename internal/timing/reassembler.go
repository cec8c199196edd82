package timing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/metrics"
)

// Reassembler buffers indexed timing chunks arriving in any order and emits a
// flattened timeline once every index in [0, total) has been seen. A missing
// slot is the normal "still waiting" condition, not a fault.
type Reassembler struct {
	mu     sync.Mutex
	chunks map[int]Timeline
	total  int
	logger *zap.Logger
}

// NewReassembler creates an empty reassembler.
func NewReassembler(logger *zap.Logger) *Reassembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reassembler{
		chunks: make(map[int]Timeline),
		logger: logger,
	}
}

// Receive stores a chunk at its index. When the buffer holds every index in
// [0, total), Receive concatenates the slots in index order, clears the
// buffer, and returns the flattened timeline with ok=true. Otherwise it
// returns ok=false.
//
// If total disagrees with a previously declared total, the latest declaration
// wins; the mismatch is logged and buffered chunks are kept.
func (r *Reassembler) Receive(index, total int, entries Timeline) (Timeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || total <= 0 || index >= total {
		r.logger.Warn("discarding timing chunk with invalid index",
			zap.Int("index", index),
			zap.Int("total", total),
		)
		return nil, false
	}

	if r.total != 0 && r.total != total {
		r.logger.Warn("timing chunk total changed, latest wins",
			zap.Int("previous", r.total),
			zap.Int("declared", total),
		)
	}
	r.total = total
	r.chunks[index] = entries.Clone()
	metrics.TimingChunksTotal.Inc()

	for i := 0; i < r.total; i++ {
		if _, ok := r.chunks[i]; !ok {
			return nil, false
		}
	}

	var flat Timeline
	for i := 0; i < r.total; i++ {
		flat = append(flat, r.chunks[i]...)
	}
	r.chunks = make(map[int]Timeline)
	r.total = 0
	metrics.TimelinesAssembledTotal.Inc()

	r.logger.Debug("timeline assembled", zap.Int("entries", len(flat)))
	return flat, true
}

// Pending returns the number of buffered chunks still awaiting a flatten.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Reset drops any buffered chunks, for topic changes mid-transfer.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = make(map[int]Timeline)
	r.total = 0
}
