package ledger

import (
	"context"
	"sync"
)

// Entry is an in-memory ledger record
type Entry struct {
	Task  string
	Major bool
	Err   string
}

// Memory is a Recorder that keeps entries in memory. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record stores one failure
func (m *Memory) Record(_ context.Context, task string, major bool, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Task: task, Major: major, Err: msg})
}

// Entries returns a copy of everything recorded so far
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByTask returns entries recorded under task
func (m *Memory) ByTask(task string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Task == task {
			out = append(out, e)
		}
	}
	return out
}
