package narration

import (
	"strings"

	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// EstimateDurationMS predicts narration audio length from the script at the
// given speaking rate in words per minute.
func EstimateDurationMS(text string, wordsPerMinute int) int64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	words := len(strings.Fields(text))
	return int64(float64(words) / float64(wordsPerMinute) * 60 * 1000)
}

// GenerateWordTimings spreads the script's words across the audio duration.
// Each word's share of the total is proportional to its length relative to a
// five-character average, stretched by half again on trailing punctuation to
// model the speaker's pause. Words are matched against diagram node names so
// highlights can follow the narration.
func GenerateWordTimings(text string, audioDurationMS int64, graph *diagram.Graph) timing.Timeline {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	budget := float64(audioDurationMS) / float64(len(words))
	var tl timing.Timeline
	var cursor float64

	for _, w := range words {
		dur := float64(len(w)) / 5 * budget
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") ||
			strings.HasSuffix(w, "?") || strings.HasSuffix(w, ",") {
			dur *= 1.5
		}

		entry := timing.Entry{
			Word:       w,
			StartMS:    int64(cursor),
			EndMS:      int64(cursor + dur),
			DurationMS: int64(dur),
			NodeID:     graph.MatchWord(w),
		}
		tl = append(tl, entry)
		cursor += dur
	}
	return tl
}
