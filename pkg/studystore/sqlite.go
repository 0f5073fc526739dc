package studystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

const (
	driverName    = "sqlite"
	schemaVersion = 2
)

// Config locates the database file.
type Config struct {
	// Path is a local file path, or ":memory:" for an ephemeral store.
	Path string
}

// SQLiteStore is a Store backed by a single local SQLite file.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes read-modify-write sequences issued by concurrent workers.
	mu sync.Mutex
}

// Open opens (and creates if needed) the study database.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open study store: %w", err)
	}

	// One connection keeps ":memory:" databases shared and file databases lock-free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping study store: %w", err)
	}
	if err := configureLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("study store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		// #nosec G301 -- log directories are shared with the operator
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS studies (
			name TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			started INTEGER NOT NULL DEFAULT 0,
			finished INTEGER NOT NULL DEFAULT 0,
			done INTEGER NOT NULL DEFAULT 0,
			with_error INTEGER NOT NULL DEFAULT 0,
			job_id INTEGER NOT NULL DEFAULT 0,
			package_uploaded INTEGER NOT NULL DEFAULT 0,
			input_package_removed_remotely INTEGER NOT NULL DEFAULT 0,
			logs_downloaded INTEGER NOT NULL DEFAULT 0,
			remote_side_cleaned INTEGER NOT NULL DEFAULT 0,
			result_unpacked INTEGER NOT NULL DEFAULT 0,
			package_path TEXT,
			result_path TEXT,
			log_dir TEXT,
			output_dir TEXT,
			cpus INTEGER NOT NULL DEFAULT 1,
			time_limit_seconds INTEGER NOT NULL DEFAULT 0,
			solver_version TEXT,
			mode TEXT,
			other_options TEXT,
			post_processing INTEGER NOT NULL DEFAULT 0,
			status_message TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_studies_job_id ON studies(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	// Columns added after the first release.
	additive := []string{
		`ALTER TABLE studies ADD COLUMN result_published INTEGER NOT NULL DEFAULT 0`,
	}
	for _, stmt := range additive {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO store_meta (id, schema_version, created_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version`,
		schemaVersion, now); err != nil {
		return fmt.Errorf("init schema meta: %w", err)
	}
	return nil
}

const selectColumns = `name, path, started, finished, done, with_error, job_id,
	package_uploaded, input_package_removed_remotely, logs_downloaded, remote_side_cleaned,
	result_unpacked, result_published, package_path, result_path, log_dir, output_dir,
	cpus, time_limit_seconds, solver_version, mode, other_options, post_processing,
	status_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudy(row rowScanner) (study.Study, error) {
	var s study.Study
	var packagePath, resultPath, logDir, outDir sql.NullString
	var version, mode, otherOptions, statusMsg sql.NullString
	var timeLimitSeconds int64
	var createdAt, updatedAt string
	err := row.Scan(
		&s.Name, &s.Path, &s.Started, &s.Finished, &s.Done, &s.WithError, &s.JobID,
		&s.PackageUploaded, &s.InputPackageRemovedRemotely, &s.LogsDownloaded, &s.RemoteSideCleaned,
		&s.ResultUnpacked, &s.ResultPublished, &packagePath, &resultPath, &logDir, &outDir,
		&s.CPUs, &timeLimitSeconds, &version, &mode, &otherOptions, &s.PostProcessing,
		&statusMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		return study.Study{}, err
	}

	s.PackagePath = packagePath.String
	s.ResultPath = resultPath.String
	s.LogDir = logDir.String
	s.OutputDir = outDir.String
	s.SolverVersion = version.String
	s.Mode = study.Mode(mode.String)
	s.OtherOptions = otherOptions.String
	s.StatusMessage = statusMsg.String
	s.TimeLimit = time.Duration(timeLimitSeconds) * time.Second
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return s, nil
}

// List returns every record ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]study.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM studies ORDER BY name`)
	if err != nil {
		return nil, &RecordError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []study.Study
	for rows.Next() {
		rec, err := scanStudy(rows)
		if err != nil {
			return nil, &RecordError{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &RecordError{Op: "list", Err: err}
	}
	return out, nil
}

// Get returns the record for name.
func (s *SQLiteStore) Get(ctx context.Context, name string) (study.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM studies WHERE name = ?`, name)
	rec, err := scanStudy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return study.Study{}, &RecordError{Op: "get", Name: name, Err: ErrNotFound}
		}
		return study.Study{}, &RecordError{Op: "get", Name: name, Err: err}
	}
	return rec, nil
}

// Save upserts the record. CreatedAt is kept from the first insert.
func (s *SQLiteStore) Save(ctx context.Context, rec study.Study) error {
	if strings.TrimSpace(rec.Name) == "" {
		return &RecordError{Op: "save", Err: errors.New("name is required")}
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO studies (
			name, path, started, finished, done, with_error, job_id,
			package_uploaded, input_package_removed_remotely, logs_downloaded, remote_side_cleaned,
			result_unpacked, result_published, package_path, result_path, log_dir, output_dir,
			cpus, time_limit_seconds, solver_version, mode, other_options, post_processing,
			status_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			started = excluded.started,
			finished = excluded.finished,
			done = excluded.done,
			with_error = excluded.with_error,
			job_id = excluded.job_id,
			package_uploaded = excluded.package_uploaded,
			input_package_removed_remotely = excluded.input_package_removed_remotely,
			logs_downloaded = excluded.logs_downloaded,
			remote_side_cleaned = excluded.remote_side_cleaned,
			result_unpacked = excluded.result_unpacked,
			result_published = excluded.result_published,
			package_path = excluded.package_path,
			result_path = excluded.result_path,
			log_dir = excluded.log_dir,
			output_dir = excluded.output_dir,
			cpus = excluded.cpus,
			time_limit_seconds = excluded.time_limit_seconds,
			solver_version = excluded.solver_version,
			mode = excluded.mode,
			other_options = excluded.other_options,
			post_processing = excluded.post_processing,
			status_message = excluded.status_message,
			updated_at = excluded.updated_at`,
		rec.Name, rec.Path, rec.Started, rec.Finished, rec.Done, rec.WithError, rec.JobID,
		rec.PackageUploaded, rec.InputPackageRemovedRemotely, rec.LogsDownloaded, rec.RemoteSideCleaned,
		rec.ResultUnpacked, rec.ResultPublished, rec.PackagePath, rec.ResultPath, rec.LogDir, rec.OutputDir,
		rec.CPUs, int64(rec.TimeLimit/time.Second), rec.SolverVersion, string(rec.Mode), rec.OtherOptions, rec.PostProcessing,
		rec.StatusMessage, rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &RecordError{Op: "save", Name: rec.Name, Err: err}
	}
	return nil
}

// Exists reports whether name is registered.
func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM studies WHERE name = ?`, name).Scan(&n); err != nil {
		return false, &RecordError{Op: "exists", Name: name, Err: err}
	}
	return n > 0, nil
}

// ExistsByJobID reports whether a record carries the scheduler handle.
func (s *SQLiteStore) ExistsByJobID(ctx context.Context, jobID int64) (bool, error) {
	if jobID <= 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM studies WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return false, &RecordError{Op: "exists_by_job_id", Err: err}
	}
	return n > 0, nil
}

// Delete removes the record for name.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM studies WHERE name = ?`, name)
	if err != nil {
		return &RecordError{Op: "delete", Name: name, Err: err}
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return &RecordError{Op: "delete", Name: name, Err: ErrNotFound}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
