package narration

import (
	"testing"

	"github.com/conceptviz/narration-gateway/internal/diagram"
)

func TestEstimateDurationMS(t *testing.T) {
	// 15 words at 150 wpm is 6 seconds.
	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen"
	if got := EstimateDurationMS(text, 150); got != 6000 {
		t.Fatalf("EstimateDurationMS = %d, want 6000", got)
	}
	if got := EstimateDurationMS("", 150); got != 0 {
		t.Fatalf("empty text duration = %d, want 0", got)
	}
}

func TestGenerateWordTimingsCoversAudio(t *testing.T) {
	timings := GenerateWordTimings("students enroll in courses", 4000, nil)
	if len(timings) != 4 {
		t.Fatalf("got %d entries, want 4", len(timings))
	}
	if timings[0].StartMS != 0 {
		t.Fatalf("first word starts at %d, want 0", timings[0].StartMS)
	}
	for i := 1; i < len(timings); i++ {
		if timings[i].StartMS != timings[i-1].EndMS {
			t.Fatalf("entry %d starts at %d, previous ends at %d",
				i, timings[i].StartMS, timings[i-1].EndMS)
		}
	}
	for i, e := range timings {
		if e.EndMS <= e.StartMS {
			t.Fatalf("entry %d has non-positive span: %+v", i, e)
		}
	}
}

func TestGenerateWordTimingsLongerWordsLonger(t *testing.T) {
	timings := GenerateWordTimings("a entity", 2000, nil)
	if len(timings) != 2 {
		t.Fatalf("got %d entries, want 2", len(timings))
	}
	short := timings[0].EndMS - timings[0].StartMS
	long := timings[1].EndMS - timings[1].StartMS
	if long <= short {
		t.Fatalf("longer word got %dms, shorter got %dms", long, short)
	}
}

func TestGenerateWordTimingsPunctuationPause(t *testing.T) {
	plain := GenerateWordTimings("word word", 2000, nil)
	paused := GenerateWordTimings("word. word", 2000, nil)
	plainDur := plain[0].EndMS - plain[0].StartMS
	pausedDur := paused[0].EndMS - paused[0].StartMS
	if pausedDur <= plainDur {
		t.Fatalf("sentence-final word got %dms, plain word got %dms", pausedDur, plainDur)
	}
}

func TestGenerateWordTimingsTagsNodes(t *testing.T) {
	g := &diagram.Graph{Nodes: []diagram.Node{
		{ID: "student", Name: "Student"},
		{ID: "course", Name: "Course"},
	}}
	timings := GenerateWordTimings("the student takes a course", 3000, g)

	byWord := make(map[string]string)
	for _, e := range timings {
		byWord[e.Word] = e.NodeID
	}
	if byWord["student"] != "student" {
		t.Fatalf("student tagged %q", byWord["student"])
	}
	if byWord["course"] != "course" {
		t.Fatalf("course tagged %q", byWord["course"])
	}
	if byWord["the"] != "" {
		t.Fatalf("filler word tagged %q", byWord["the"])
	}
}
