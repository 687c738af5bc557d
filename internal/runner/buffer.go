package runner

import "sync"

// lineBuffer keeps the most recent capacity lines of tool output.
// When full, the oldest line is dropped so a chatty tool cannot grow
// memory without bound.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

func newLineBuffer(capacity int) *lineBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &lineBuffer{lines: make([]string, capacity)}
}

func (b *lineBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count < len(b.lines) {
		b.lines[(b.start+b.count)%len(b.lines)] = line
		b.count++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
}

// Snapshot returns the retained lines oldest-first.
func (b *lineBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}
