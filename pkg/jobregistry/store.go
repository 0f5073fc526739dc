package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ErrNotFound is returned when no driver matches an id or id prefix.
var ErrNotFound = errors.New("driver not found")

// Store persists and loads DriverRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<driver_id>/driver.json
//	<root>/<driver_id>/stdout.log
//	<root>/<driver_id>/stderr.log
//	<root>/<driver_id>/driver.log
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) DriverDir(driverID string) string {
	return filepath.Join(s.root, driverID)
}

func (s *Store) DriverPath(driverID string) string {
	return filepath.Join(s.DriverDir(driverID), "driver.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("driver registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *DriverRecord) error {
	if record == nil {
		return fmt.Errorf("driver record is nil")
	}
	driverID := strings.TrimSpace(record.DriverID)
	if driverID == "" {
		return fmt.Errorf("driver_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.DriverDir(driverID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create driver dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal driver record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "driver.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp driver file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp driver file: %w", err)
	}

	if err := os.Rename(tmpName, s.DriverPath(driverID)); err != nil {
		return fmt.Errorf("rename driver file: %w", err)
	}
	return nil
}

// Get loads a record. A running driver whose process is gone is rewritten
// as unknown.
func (s *Store) Get(driverID string) (*DriverRecord, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, fmt.Errorf("driver_id is required")
	}
	b, err := os.ReadFile(s.DriverPath(driverID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, driverID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("driver.json is empty")
	}

	var record DriverRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse driver.json: %w", err)
	}

	if record.State == DriverStateRunning && record.PID > 0 && !isProcessAlive(record.PID) {
		record.State = DriverStateUnknown
		now := time.Now().UTC()
		record.LastHeartbeat = &now
		_ = s.Write(&record)
	}

	return &record, nil
}

// List returns every readable record, newest first.
func (s *Store) List() ([]DriverRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read drivers root: %w", err)
	}

	out := make([]DriverRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return sortTime(out[i]).After(sortTime(out[j]))
	})
	return out, nil
}

// Resolve expands a unique driver id prefix.
func (s *Store) Resolve(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("driver_id is required")
	}
	if _, err := os.Stat(s.DriverPath(input)); err == nil {
		return input, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, input)
		}
		return "", err
	}
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), input) {
			matches = append(matches, entry.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("driver id prefix %q is ambiguous (%d matches)", input, len(matches))
	}
}

// Heartbeat records progress for a running driver.
func (s *Store) Heartbeat(driverID string, runID string, p Progress) error {
	rec, err := s.Get(driverID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.LastHeartbeat = &now
	rec.Progress = &p
	if runID != "" {
		rec.RunID = runID
	}
	return s.Write(rec)
}

// Finish moves a driver into a final state. cause may be nil.
func (s *Store) Finish(driverID string, state DriverState, cause error) error {
	rec, err := s.Get(driverID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.State = state
	rec.EndedAt = &now
	rec.LastHeartbeat = &now
	if cause != nil {
		rec.Error = cause.Error()
	}
	return s.Write(rec)
}

func sortTime(r DriverRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering anything.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
