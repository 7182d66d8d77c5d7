// Package procdir lists OS processes and answers ancestry and path questions
// about a single snapshot of them.
package procdir

// Record is one row of a process listing. Records are produced fresh by every
// query and never mutated afterwards.
type Record struct {
	PID         int    `json:"pid"`
	PPID        int    `json:"ppid"`
	CommandLine string `json:"command_line"`
}

// Snapshot is a point-in-time process table. All filtering within one scan
// tick happens against a single Snapshot.
type Snapshot struct {
	records  []Record
	children map[int][]int // ppid -> indexes into records, listing order
	pids     map[int]struct{}
}

// NewSnapshot indexes records by parent pid, keeping listing order.
func NewSnapshot(records []Record) Snapshot {
	s := Snapshot{
		records:  records,
		children: make(map[int][]int, len(records)),
		pids:     make(map[int]struct{}, len(records)),
	}
	for i, r := range records {
		s.children[r.PPID] = append(s.children[r.PPID], i)
		s.pids[r.PID] = struct{}{}
	}
	return s
}

// All returns a copy of every record in listing order.
func (s Snapshot) All() []Record {
	return append([]Record(nil), s.records...)
}

func (s Snapshot) Len() int { return len(s.records) }

// Has reports whether pid is present in the snapshot.
func (s Snapshot) Has(pid int) bool {
	_, ok := s.pids[pid]
	return ok
}

// Children returns the direct children of ppid in listing order.
func (s Snapshot) Children(ppid int) []Record {
	idx := s.children[ppid]
	out := make([]Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.records[i])
	}
	return out
}

// Descendants returns every process transitively parented by pid. Direct
// children come first, followed by the descendants of each child in order.
// A pid is never visited twice, so ppid cycles from pid reuse terminate.
func (s Snapshot) Descendants(pid int) []Record {
	seen := map[int]struct{}{pid: {}}
	return s.descend(pid, seen)
}

func (s Snapshot) descend(ppid int, seen map[int]struct{}) []Record {
	var direct []Record
	for _, r := range s.Children(ppid) {
		if _, dup := seen[r.PID]; dup {
			continue
		}
		seen[r.PID] = struct{}{}
		direct = append(direct, r)
	}
	out := direct
	for _, r := range direct {
		out = append(out, s.descend(r.PID, seen)...)
	}
	return out
}

// Filter returns the records for which keep returns true, in listing order.
func (s Snapshot) Filter(keep func(Record) bool) []Record {
	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
