package bridge

import "sync"

// ring is a fixed-capacity line buffer that drops its oldest entries
// under pressure. It backs attach-with-replay.
type ring struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (r *ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.lines) {
		r.lines[(r.start+r.count)%len(r.lines)] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// Snapshot returns the buffered lines oldest-first.
func (r *ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Len returns the number of buffered lines.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
