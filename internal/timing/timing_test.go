package timing

import "testing"

func TestActiveNodes(t *testing.T) {
	tl := Timeline{
		{Word: "a", StartMS: 0, EndMS: 100, NodeID: "x"},
		{Word: "b", StartMS: 100, EndMS: 200},
		{Word: "c", StartMS: 150, EndMS: 300, NodeID: "y"},
		{Word: "d", StartMS: 160, EndMS: 290, NodeID: "y"},
	}

	if got := tl.ActiveNodes(50); len(got) != 1 || got[0] != "x" {
		t.Fatalf("ActiveNodes(50) = %v, want [x]", got)
	}
	// Entry without a node contributes nothing.
	if got := tl.ActiveNodes(120); len(got) != 0 {
		t.Fatalf("ActiveNodes(120) = %v, want empty", got)
	}
	// Duplicate node IDs collapse.
	if got := tl.ActiveNodes(200); len(got) != 1 || got[0] != "y" {
		t.Fatalf("ActiveNodes(200) = %v, want [y]", got)
	}
	if got := tl.ActiveNodes(1000); len(got) != 0 {
		t.Fatalf("ActiveNodes(1000) = %v, want empty", got)
	}
}

func TestEntryContainsIsInclusive(t *testing.T) {
	e := Entry{StartMS: 100, EndMS: 200}
	for _, pos := range []int64{100, 150, 200} {
		if !e.Contains(pos) {
			t.Errorf("Contains(%d) = false, want true", pos)
		}
	}
	for _, pos := range []int64{99, 201} {
		if e.Contains(pos) {
			t.Errorf("Contains(%d) = true, want false", pos)
		}
	}
}

func TestTimelineDuration(t *testing.T) {
	if d := (Timeline{}).DurationMS(); d != 0 {
		t.Fatalf("empty timeline duration = %d, want 0", d)
	}
	tl := Timeline{{StartMS: 0, EndMS: 300}, {StartMS: 300, EndMS: 700}}
	if d := tl.DurationMS(); d != 700 {
		t.Fatalf("duration = %d, want 700", d)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tl := Timeline{{Word: "a", StartMS: 0, EndMS: 100}}
	cp := tl.Clone()
	cp[0].Word = "b"
	if tl[0].Word != "a" {
		t.Fatal("Clone shares backing storage with original")
	}
}
