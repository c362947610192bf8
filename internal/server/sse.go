package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

// sseEventName is the SSE event type used for every delivered event.
const sseEventName = "event"

// handleSubscribe handles GET /v1/subscribe (SSE endpoint). The filter is
// taken from the query string as for GET /v1/events. Relays are only asked
// for events newer than the previous session unless since_last_opened=false.
func (s *RelayServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sinceLastOpened := true
	if v := r.URL.Query().Get("since_last_opened"); v != "" {
		if sinceLastOpened, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid since_last_opened: "+v)
			return
		}
	}

	st, err := s.subscribe(filter, sinceLastOpened)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ":subscribed\n\n")
	flusher.Flush()

	ctx := r.Context()
	var seq uint64
	for _, ev := range st.Snapshot {
		if ctx.Err() != nil {
			return
		}
		seq++
		if err := writeSSEEvent(w, seq, ev); err != nil {
			s.logger.Warn("sse: dropping unencodable event", "id", ev.ID, "err", err)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-st.C:
			seq++
			if err := writeSSEEvent(w, seq, ev); err != nil {
				s.logger.Warn("sse: dropping unencodable event", "id", ev.ID, "err", err)
				continue
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, seq uint64, ev *model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "id:%d\n", seq)
	fmt.Fprintf(w, "event:%s\n", sseEventName)
	fmt.Fprintf(w, "data:%s\n\n", data)
	return nil
}
