package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// StudyLister is the read side of the record store.
type StudyLister interface {
	List(ctx context.Context) ([]study.Study, error)
	Get(ctx context.Context, name string) (study.Study, error)
}

// StudiesResponse is the /v1/studies payload.
type StudiesResponse struct {
	Studies []study.Study `json:"studies"`
	Total   int           `json:"total"`
	Done    int           `json:"done"`
	Failed  int           `json:"failed"`
}

// Studies serves read-only views of the record store.
type Studies struct {
	store StudyLister
}

func NewStudies(store StudyLister) *Studies {
	return &Studies{store: store}
}

// List answers GET /v1/studies. ?status=done|pending|failed filters.
func (h *Studies) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	filter := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	switch filter {
	case "", "done", "pending", "failed":
	default:
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "status must be one of done, pending, failed")
		return
	}

	resp := StudiesResponse{Studies: make([]study.Study, 0, len(all))}
	for _, s := range all {
		if s.Done {
			resp.Done++
		}
		if s.WithError {
			resp.Failed++
		}
		if !matchesFilter(s, filter) {
			continue
		}
		resp.Studies = append(resp.Studies, s)
	}
	resp.Total = len(all)
	writeJSON(w, http.StatusOK, resp)
}

// Get answers GET /v1/studies/{name}.
func (h *Studies) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func matchesFilter(s study.Study, filter string) bool {
	switch filter {
	case "done":
		return s.Done
	case "pending":
		return !s.Done
	case "failed":
		return s.WithError
	}
	return true
}
