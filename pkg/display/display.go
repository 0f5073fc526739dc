// Package display reports launcher activity to the operator.
//
// A Display is purely observational: nothing it does may influence control
// flow. All implementations are safe for concurrent use.
package display

import "iter"

// Display receives user-facing messages.
type Display interface {
	// Message reports normal progress.
	Message(text string)

	// Error reports a failure the operator should notice.
	Error(text string)

	// Progress reports that step current of total is being processed.
	Progress(label string, current, total int)
}

// Iterate yields the items in order and reports progress on d for each one.
func Iterate[T any](d Display, label string, items []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for i, item := range items {
			d.Progress(label, i+1, len(items))
			if !yield(item) {
				return
			}
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Message(string) {}

func (Nop) Error(string) {}

func (Nop) Progress(string, int, int) {}

var _ Display = Nop{}
