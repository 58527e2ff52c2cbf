package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/casework/internal/progress"
)

// streamFrame is the data payload of one server-sent event. The opening
// frame of a stream carries the full snapshot.
type streamFrame struct {
	progress.Event
	Snapshot *progress.Snapshot `json:"snapshot,omitempty"`
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s sseWriter) frame(f streamFrame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if f.Seq > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", f.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", f.Type, raw); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents streams a job's progress. The stream opens with a snapshot
// frame, or with a replay from the durable log when the client sends
// Last-Event-ID, and closes after the terminal job event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	snap, sub, err := s.jobs.Subscribe(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	out := sseWriter{w: w, rc: http.NewResponseController(w)}

	lastSeq := snap.LastSeq
	if after, ok := lastEventID(r); ok && after < snap.LastSeq {
		if err := s.replay(ctx, out, id, after, snap.LastSeq); err != nil {
			slog.Debug("event stream closed", "job", id, "error", err)
			return
		}
	} else {
		opening := streamFrame{
			Event: progress.Event{
				Type:      progress.EventSnapshot,
				JobID:     id,
				Seq:       snap.LastSeq,
				Status:    string(snap.OverallStatus),
				Message:   snap.Message,
				Details:   []string{},
				Timestamp: snap.UpdatedAt,
			},
			Snapshot: &snap,
		}
		if err := out.frame(opening); err != nil {
			return
		}
	}
	if snap.OverallStatus.IsTerminal() {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.comment("keep-alive"); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				// Closed by the terminal event, possibly after drops; the log
				// has whatever the channel missed.
				_ = s.replay(ctx, out, id, lastSeq, -1)
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if ev.Seq > lastSeq+1 {
				if err := s.replay(ctx, out, id, lastSeq, ev.Seq-1); err != nil {
					return
				}
			}
			lastSeq = ev.Seq
			if err := out.frame(streamFrame{Event: ev}); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

// replay writes logged events in (after, upTo]; a negative upTo means all.
func (s *Server) replay(ctx context.Context, out sseWriter, id string, after, upTo int64) error {
	events, err := s.jobs.Events(ctx, id, after)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if upTo >= 0 && ev.Seq > upTo {
			break
		}
		if err := out.frame(streamFrame{Event: ev}); err != nil {
			return err
		}
	}
	return nil
}

func lastEventID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
