package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ictashik/OpenDataTagger/internal/service"
)

// defaultCleanupAge applies when a cleanup request names no age.
const defaultCleanupAge = 24 * time.Hour

// writeWait bounds each websocket write.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// JobView is the listing form of a job.
type JobView struct {
	ID         string     `json:"id"`
	Dataset    string     `json:"dataset"`
	Model      string     `json:"model,omitempty"`
	Status     string     `json:"status"`
	State      string     `json:"state"`
	Done       int        `json:"done"`
	Total      int        `json:"total"`
	StartedAt  time.Time  `json:"started_at"`
	LastUpdate time.Time  `json:"last_update"`
	LastSave   *time.Time `json:"last_save,omitempty"`
}

func jobView(job *service.Job) JobView {
	snap := job.Snapshot()
	return JobView{
		ID:         snap.ID,
		Dataset:    snap.Request.DatasetPath,
		Model:      snap.Request.Model,
		Status:     snap.Status.String(),
		State:      snap.Status.State.String(),
		Done:       snap.Done,
		Total:      snap.Total,
		StartedAt:  snap.StartedAt,
		LastUpdate: snap.LastUpdate,
		LastSave:   snap.LastSave,
	}
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.List()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Poll(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

// streamJob pushes progress snapshots over a websocket until the job ends,
// then closes the connection normally.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain the client side so close frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	finished := job.Finished()

	for {
		snap, err := s.jobs.Poll(ctx, id)
		if err != nil {
			s.closeStream(conn, websocket.CloseGoingAway, "job removed")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("stream write failed", "job_id", id, "error", err)
			return
		}
		if snap.Terminal() {
			s.closeStream(conn, websocket.CloseNormalClosure, snap.State)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-finished:
			finished = nil
		case <-ticker.C:
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.logger.Debug("stream close failed", "error", err)
	}
}

type cleanupRequest struct {
	MinAgeHours *float64 `json:"min_age_hours"`
	DryRun      bool     `json:"dry_run"`
	Force       bool     `json:"force"`
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	opts := service.CleanupOptions{MinAge: defaultCleanupAge, DryRun: req.DryRun, Force: req.Force}
	if req.MinAgeHours != nil {
		if *req.MinAgeHours < 0 {
			writeError(w, http.StatusBadRequest, "min_age_hours must not be negative")
			return
		}
		opts.MinAge = time.Duration(*req.MinAgeHours * float64(time.Hour))
	}
	writeJSON(w, http.StatusOK, s.jobs.Cleanup(opts))
}
