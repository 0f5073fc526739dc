package display

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Record type identifiers, pattern antares-launcher.<type>.v<version>.
const (
	TypeMessage  = "antares-launcher.message.v1"
	TypeError    = "antares-launcher.error.v1"
	TypeProgress = "antares-launcher.progress.v1"
)

// Record is the envelope of one JSONL line.
type Record struct {
	Type  string          `json:"type"`
	TS    time.Time       `json:"ts"`
	RunID string          `json:"run_id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// TextRecord is the payload of message and error records.
type TextRecord struct {
	Text string `json:"text"`
}

// ProgressRecord is the payload of progress records.
type ProgressRecord struct {
	Label   string `json:"label"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// JSONL writes each event as one JSON object per line.
type JSONL struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
}

// NewJSONL returns a JSONL display. runID correlates the lines of one run.
func NewJSONL(w io.Writer, runID string) *JSONL {
	return &JSONL{w: w, runID: runID}
}

func (j *JSONL) Message(text string) {
	j.write(TypeMessage, TextRecord{Text: text})
}

func (j *JSONL) Error(text string) {
	j.write(TypeError, TextRecord{Text: text})
}

func (j *JSONL) Progress(label string, current, total int) {
	j.write(TypeProgress, ProgressRecord{Label: label, Current: current, Total: total})
}

// write emits a complete line; failures are dropped since display output
// never affects the run.
func (j *JSONL) write(recordType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	line, err := json.Marshal(Record{Type: recordType, TS: time.Now().UTC(), RunID: j.runID, Data: payload})
	if err != nil {
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_ = writeAll(j.w, line)
}

// writeAll handles short writes so lines are never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Display = (*JSONL)(nil)
