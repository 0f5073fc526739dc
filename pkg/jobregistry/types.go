// Package jobregistry tracks background wait-mode drivers: detached
// launcher processes that keep retrieving until every study is done.
package jobregistry

import "time"

// DriverState is the lifecycle state of a background driver.
//
// NOTE: These values are persisted in driver.json and are part of the
// stable on-disk contract.
type DriverState string

const (
	DriverStateRunning  DriverState = "running"
	DriverStateStopping DriverState = "stopping"
	DriverStateStopped  DriverState = "stopped"
	DriverStateSuccess  DriverState = "success"
	DriverStateFailed   DriverState = "failed"
	DriverStateUnknown  DriverState = "unknown"
)

// Finished reports whether the driver will not change state anymore.
func (s DriverState) Finished() bool {
	switch s {
	case DriverStateStopped, DriverStateSuccess, DriverStateFailed, DriverStateUnknown:
		return true
	}
	return false
}

// Progress is the last study tally a driver reported.
type Progress struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Passes  int `json:"passes"`
}

// DriverRecord is the persistent record written to driver.json.
//
// Additive fields only.
type DriverRecord struct {
	DriverID  string      `json:"driver_id"`
	Name      string      `json:"name,omitempty"`
	State     DriverState `json:"state"`
	InputDir  string      `json:"input_dir"`
	StoreFile string      `json:"store_file,omitempty"`
	Args      []string    `json:"args,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	PID       int         `json:"pid,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Error     string      `json:"error,omitempty"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Progress      *Progress  `json:"progress,omitempty"`
	StdoutPath    string     `json:"stdout_path,omitempty"`
	StderrPath    string     `json:"stderr_path,omitempty"`
	LogPath       string     `json:"log_path,omitempty"`
}
