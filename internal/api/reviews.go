package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kylemclaren/reviewd/internal/bus"
	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/review"
)

// ListReviews handles GET /api/v1/reviews
func (s *Server) ListReviews(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list reviews", "DB_ERROR")
		return
	}
	if runs == nil {
		runs = []*db.ReviewRun{}
	}
	jsonResponse(w, http.StatusOK, runs)
}

// CreateReview handles POST /api/v1/reviews. The run and its tasks are
// created atomically, then enqueued; the response returns before any task
// has executed.
func (s *Server) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req review.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	run, tasks, err := s.reviews.CreateRun(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, review.ErrValidation):
			errorResponse(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		case errors.Is(err, db.ErrNotFound):
			errorResponse(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		default:
			errorResponse(w, http.StatusInternalServerError, "Failed to create review", "DB_ERROR")
		}
		return
	}
	s.reviews.StartRun(run, tasks, req.Options)

	taskIDs := make([]string, 0, len(tasks))
	for _, task := range tasks {
		taskIDs = append(taskIDs, task.ID)
	}
	jsonResponse(w, http.StatusAccepted, CreateReviewResponse{
		RunID:   run.ID,
		TaskIDs: taskIDs,
	})
}

// GetReview handles GET /api/v1/reviews/{id}
func (s *Server) GetReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Review not found", "NOT_FOUND")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get review", "DB_ERROR")
		return
	}
	tasks, err := s.db.ListTasksForRun(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get review tasks", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, RunResponse{Run: run, Tasks: tasks})
}

// QueueStats handles GET /api/v1/queue
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats := s.reviews.QueueStats()
	jsonResponse(w, http.StatusOK, QueueResponse{
		Pending: stats.Pending,
		Active:  stats.Active,
	})
}

// StreamReview handles GET /api/v1/reviews/{id}/stream: an SSE relay of the
// run's bus events. The subscription is scoped to one run id; progress
// chunks arrive as task_progress events.
func (s *Server) StreamReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetRun(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Review not found", "NOT_FOUND")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to get review", "DB_ERROR")
		return
	}

	flusher, ok := sseSetup(w)
	if !ok {
		return
	}

	// Bus delivery is synchronous; buffer and drop under backpressure so a
	// slow client cannot stall the executor.
	events := make(chan bus.Event, 64)
	unsubscribe := s.reviews.Bus().Subscribe(func(ev bus.Event) {
		if eventRunID(ev) != id {
			return
		}
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeSSE(w, ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

// eventRunID extracts the run id a bus event is scoped to.
func eventRunID(ev bus.Event) string {
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	runID, _ := data["runId"].(string)
	return runID
}

// sseSetup writes SSE headers and returns the flusher, or replies 500 if
// the connection cannot stream.
func sseSetup(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "Streaming not supported", "STREAM_ERROR")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSE frames one event in wire format: event line, data line, blank
// line.
func writeSSE(w http.ResponseWriter, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
}
