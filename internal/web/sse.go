package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qbloader/qbloader/internal/events"
	"github.com/qbloader/qbloader/internal/store"
)

// handleJobEvents streams progress snapshots for one job over Server-Sent
// Events. The current state is sent immediately, then live updates follow
// until the job reaches a terminal status or the client disconnects. Dropped
// updates are acceptable; the stream always ends on a terminal snapshot or a
// disconnect, and GET /api/jobs/{jobID} remains the source of truth.
//
// GET /api/jobs/{jobID}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	jobID, ok := s.urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	// Ownership check and initial snapshot in one lookup.
	snap, err := s.service.Snapshot(r.Context(), userID, jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming unsupported"), http.StatusInternalServerError)
		return
	}

	// Subscribe before sending the snapshot so no transition between the
	// two is lost.
	ch, cancel := s.broker.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, *snap)
	flusher.Flush()
	if store.JobStatus(snap.Status).Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-ch:
			if !open {
				return
			}
			writeEvent(w, update)
			flusher.Flush()
			if store.JobStatus(update.Status).Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, snap events.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
