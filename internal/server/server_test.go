package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/server/handlers"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

func newStore(t *testing.T, studies ...study.Study) studystore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := studystore.Open(ctx, studystore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, st := range studies {
		require.NoError(t, s.Save(ctx, st))
	}
	return s
}

func get(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServer_NotFound(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := get(t, srv, http.MethodGet, "/does-not-exist")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, handlers.CodeNotFound, decodeError(t, rec).Error.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := get(t, srv, http.MethodPost, "/version")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, handlers.CodeMethodNotAllowed, decodeError(t, rec).Error.Code)
}

func TestServer_Port(t *testing.T) {
	for _, port := range []int{0, 8080, 9000} {
		assert.Equal(t, port, New("127.0.0.1", port).Port())
	}
}

func TestServer_Version(t *testing.T) {
	srv := New("127.0.0.1", 0, WithVersion(handlers.VersionInfo{Version: "1.2.3", Commit: "abc"}))

	rec := get(t, srv, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info handlers.VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := New("127.0.0.1", 0, WithHealthChecker("store", handlers.HealthCheckerFunc(func(context.Context) error { return nil })))
		rec := get(t, srv, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy", func(t *testing.T) {
		srv := New("127.0.0.1", 0, WithHealthChecker("store", handlers.HealthCheckerFunc(func(context.Context) error { return errors.New("locked") })))
		rec := get(t, srv, http.MethodGet, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp handlers.HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Contains(t, resp.Checks["store"], "locked")
	})
}

func TestServer_StudiesRoutesNeedStore(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := get(t, srv, http.MethodGet, "/v1/studies")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Studies(t *testing.T) {
	store := newStore(t,
		study.Study{Name: "s1", JobID: 11, Done: true, Finished: true, Started: true, StatusMessage: study.StatusFinished},
		study.Study{Name: "s2", JobID: 12, Started: true, StatusMessage: study.StatusRunning},
		study.Study{Name: "s3", Done: true, WithError: true, StatusMessage: "Upload failed: boom"},
	)
	srv := New("127.0.0.1", 0, WithStore(store))

	t.Run("list", func(t *testing.T) {
		rec := get(t, srv, http.MethodGet, "/v1/studies")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.StudiesResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, 2, resp.Done)
		assert.Equal(t, 1, resp.Failed)
		assert.Len(t, resp.Studies, 3)
	})

	t.Run("filter", func(t *testing.T) {
		rec := get(t, srv, http.MethodGet, "/v1/studies?status=pending")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.StudiesResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Studies, 1)
		assert.Equal(t, "s2", resp.Studies[0].Name)
	})

	t.Run("bad filter", func(t *testing.T) {
		rec := get(t, srv, http.MethodGet, "/v1/studies?status=weird")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := get(t, srv, http.MethodGet, "/v1/studies/s2")
		require.Equal(t, http.StatusOK, rec.Code)

		var s study.Study
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
		assert.Equal(t, int64(12), s.JobID)
		assert.Equal(t, study.StatusRunning, s.StatusMessage)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := get(t, srv, http.MethodGet, "/v1/studies/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, handlers.CodeNotFound, decodeError(t, rec).Error.Code)
	})
}

func TestServer_StartStops(t *testing.T) {
	srv := New("127.0.0.1", 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
