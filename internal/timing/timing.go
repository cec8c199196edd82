package timing

// Entry is one narrated word with its offsets into the audio clock.
// StartMS and EndMS are milliseconds from the start of the narration audio.
// NodeID, when set, names the diagram node the word refers to.
type Entry struct {
	Word       string `json:"word"`
	StartMS    int64  `json:"start_time"`
	EndMS      int64  `json:"end_time"`
	NodeID     string `json:"node_id,omitempty"`
	DurationMS int64  `json:"duration,omitempty"`
	Processed  bool   `json:"-"`
}

// Valid reports whether the entry's interval is well-formed.
func (e Entry) Valid() bool {
	return e.StartMS <= e.EndMS
}

// Contains reports whether the audio position falls inside the entry's interval.
func (e Entry) Contains(posMS int64) bool {
	return e.StartMS <= posMS && posMS <= e.EndMS
}

// Timeline is an ordered sequence of entries. Insertion order is chronological
// order: start times are non-decreasing across the sequence.
type Timeline []Entry

// ActiveNodes returns the deduplicated node IDs of all entries whose interval
// contains posMS. Entries without a node contribute nothing.
func (tl Timeline) ActiveNodes(posMS int64) []string {
	var nodes []string
	seen := make(map[string]struct{})
	for _, e := range tl {
		if e.NodeID == "" || !e.Contains(posMS) {
			continue
		}
		if _, dup := seen[e.NodeID]; dup {
			continue
		}
		seen[e.NodeID] = struct{}{}
		nodes = append(nodes, e.NodeID)
	}
	return nodes
}

// DurationMS returns the end time of the last entry, or zero for an empty timeline.
func (tl Timeline) DurationMS() int64 {
	if len(tl) == 0 {
		return 0
	}
	return tl[len(tl)-1].EndMS
}

// Clone returns a copy of the timeline so callers can hand out snapshots
// without sharing backing storage.
func (tl Timeline) Clone() Timeline {
	if tl == nil {
		return nil
	}
	out := make(Timeline, len(tl))
	copy(out, tl)
	return out
}
