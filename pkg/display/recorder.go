package display

import (
	"fmt"
	"sync"
)

// Recorder keeps every event in memory. Useful in tests and for the status
// summary of background drivers.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	errors   []string
	progress []string
}

func (r *Recorder) Message(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *Recorder) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

func (r *Recorder) Progress(label string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, fmt.Sprintf("%d/%d %s", current, total, label))
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// ProgressEvents returns a copy of the recorded progress events.
func (r *Recorder) ProgressEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...)
}

// Len is the total number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages) + len(r.errors) + len(r.progress)
}

var _ Display = (*Recorder)(nil)
