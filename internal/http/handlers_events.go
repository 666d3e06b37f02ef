package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"smartspend/internal/events"
	applog "smartspend/internal/log"
)

// handleEvents streams the owner's snapshots as server-sent events: the latest
// one first, then each new one as it is published.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError().Write(w)
		return
	}

	sub := s.deps.Ledger.Broker().Subscribe(owner)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, events.ErrClosed) && ctx.Err() == nil {
				applog.FromContext(ctx).WarnContext(ctx, "Event stream ended", applog.FieldError, err.Error())
			}
			return
		}
		data, err := json.Marshal(toSnapshotDTO(snap, s.loc))
		if err != nil {
			applog.FromContext(ctx).ErrorContext(ctx, "Failed to encode snapshot", applog.FieldError, err.Error())
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq(), data); err != nil {
			return
		}
		flusher.Flush()
	}
}
