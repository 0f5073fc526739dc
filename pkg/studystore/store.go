// Package studystore persists study records.
//
// The store is the single source of truth for the launcher: a pipeline
// stage's effect only counts once the returned record has been saved.
package studystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// ErrNotFound indicates no record exists for the requested name.
var ErrNotFound = errors.New("study not found")

// Store is the record store capability consumed by the pipelines.
type Store interface {
	// List returns every record ordered by name.
	List(ctx context.Context) ([]study.Study, error)

	// Get returns the record for name or ErrNotFound.
	Get(ctx context.Context, name string) (study.Study, error)

	// Save upserts a record by name.
	Save(ctx context.Context, s study.Study) error

	// Exists reports whether a record with this name is registered.
	Exists(ctx context.Context, name string) (bool, error)

	// ExistsByJobID reports whether any record carries this scheduler handle.
	ExistsByJobID(ctx context.Context, jobID int64) (bool, error)

	// Delete removes a record. Operator action only; the pipelines never delete.
	Delete(ctx context.Context, name string) error

	Close() error
}

// RecordError wraps a store failure with the record it concerns.
type RecordError struct {
	Op   string
	Name string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("studystore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("studystore %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
