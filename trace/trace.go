// Package trace records scheduler activity for inspection and debugging:
// one record per agent run and one per delivered message. Recorders are
// purely observational and never influence scheduling; recording errors are
// logged by the engine rather than surfaced to agents.
//
// InMemoryRecorder suits tests and short-lived networks; package
// trace/sqlite provides a durable recorder.
package trace

import (
	"sync"
	"time"
)

// RunRecord captures one completed agent run.
type RunRecord struct {
	RunID    string
	Agent    string
	Signal   string
	Error    string
	Started  time.Time
	Finished time.Time
}

// MessageRecord captures one message delivery on a connection.
type MessageRecord struct {
	MessageID string
	Type      string
	From      string
	To        string
	At        time.Time
}

// Recorder observes scheduler activity. Implementations must be safe for
// concurrent use; agent runs execute in parallel.
type Recorder interface {
	RecordRun(r RunRecord) error
	RecordMessage(m MessageRecord) error
}

// Nop discards all records.
type Nop struct{}

// RecordRun discards the record.
func (Nop) RecordRun(RunRecord) error { return nil }

// RecordMessage discards the record.
func (Nop) RecordMessage(MessageRecord) error { return nil }

// InMemoryRecorder is a volatile Recorder storing records in process-local
// slices. It is safe for concurrent access and best suited for tests.
// Accessors return copies to prevent external mutation of internal state.
type InMemoryRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
	msgs []MessageRecord
}

// NewInMemoryRecorder constructs an empty in-memory recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// RecordRun appends a run record.
func (r *InMemoryRecorder) RecordRun(rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, rec)
	return nil
}

// RecordMessage appends a message record.
func (r *InMemoryRecorder) RecordMessage(rec MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, rec)
	return nil
}

// Runs returns a copy of all run records in arrival order.
func (r *InMemoryRecorder) Runs() []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunRecord, len(r.runs))
	copy(out, r.runs)
	return out
}

// Messages returns a copy of all message records in arrival order.
func (r *InMemoryRecorder) Messages() []MessageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessageRecord, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// RunsFor returns the run records of one agent.
func (r *InMemoryRecorder) RunsFor(agent string) []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RunRecord
	for _, rec := range r.runs {
		if rec.Agent == agent {
			out = append(out, rec)
		}
	}
	return out
}
