package alertapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepaliveInterval spaces SSE comments that keep idle proxies from
// closing the stream.
const keepaliveInterval = 15 * time.Second

// handleStream relays change notifications as server-sent events until the
// client disconnects.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub := a.events.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}
	// The stream outlives any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Warn(r.Context(), "event not encodable", "type", ev.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
