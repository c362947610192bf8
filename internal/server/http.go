package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// defaultStaleThreshold is the roster staleness cutoff when the request
// does not name one.
const defaultStaleThreshold = 30 * time.Minute

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *RelayServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/events", s.handleQueryEvents)
	mux.HandleFunc("POST /v1/events", s.handlePublishEvent)
	mux.HandleFunc("GET /v1/subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /v1/relays", s.handleRelays)
	mux.HandleFunc("GET /v1/flags", s.handleGetFlags)
	mux.HandleFunc("PUT /v1/flags", s.handleSetFlags)
	mux.HandleFunc("GET /v1/watermark", s.handleWatermark)
	mux.HandleFunc("GET /v1/subscriptions", s.handleSubscriptions)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *RelayServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueryEvents handles GET /v1/events.
func (s *RelayServer) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := s.query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// handlePublishEvent handles POST /v1/events. With ?broadcast=true the event
// is also sent to the default relays.
func (s *RelayServer) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	broadcast := false
	if v := r.URL.Query().Get("broadcast"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid broadcast: "+v)
			return
		}
		broadcast = b
	}

	n, err := s.publish(r.Context(), &ev, broadcast)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": ev.ID, "relays": n})
}

// handleRelays handles GET /v1/relays.
func (s *RelayServer) handleRelays(w http.ResponseWriter, r *http.Request) {
	stale := defaultStaleThreshold
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			stale = time.Duration(secs) * time.Second
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"relays": s.roster(stale)})
}

// handleGetFlags handles GET /v1/flags.
func (s *RelayServer) handleGetFlags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Flags().Load())
}

// handleSetFlags handles PUT /v1/flags. Fields missing from the body keep
// their current value.
func (s *RelayServer) handleSetFlags(w http.ResponseWriter, r *http.Request) {
	f := s.coord.Flags().Load()
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.setFlags(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleWatermark handles GET /v1/watermark.
func (s *RelayServer) handleWatermark(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"watermark": s.currentWatermark()})
}

// handleSubscriptions handles GET /v1/subscriptions.
func (s *RelayServer) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	type subscription struct {
		ID     uint64       `json:"id"`
		Filter model.Filter `json:"filter"`
	}
	subs := s.coord.Subscriptions()
	out := make([]subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscription{ID: sub.ID, Filter: sub.Filter})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":         s.coord.Stats(),
		"subscriptions": out,
	})
}

// filterFromQuery builds a filter from either a JSON "filter" parameter or
// the individual ids, authors, kinds, since, until and limit parameters.
// Tag constraints are accepted as "#<name>=v1,v2".
func filterFromQuery(r *http.Request) (model.Filter, error) {
	q := r.URL.Query()
	if raw := q.Get("filter"); raw != "" {
		f, err := model.ParseFilter([]byte(raw))
		if err != nil {
			return model.Filter{}, errors.New("invalid filter: " + err.Error())
		}
		return f, nil
	}

	var f model.Filter
	if q.Has("ids") {
		f.IDs = splitParam(q.Get("ids"))
	}
	if q.Has("authors") {
		f.Authors = splitParam(q.Get("authors"))
	}
	if q.Has("kinds") {
		f.Kinds = []int{}
		for _, v := range splitParam(q.Get("kinds")) {
			k, err := strconv.Atoi(v)
			if err != nil {
				return model.Filter{}, errors.New("invalid kind: " + v)
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	for _, name := range []string{"since", "until"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.Filter{}, errors.New("invalid " + name + ": " + v)
		}
		if name == "since" {
			f.Since = &ts
		} else {
			f.Until = &ts
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Filter{}, errors.New("invalid limit: " + v)
		}
		f.Limit = n
	}
	for key, vals := range q {
		if !strings.HasPrefix(key, "#") || len(key) < 2 || len(vals) == 0 {
			continue
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = splitParam(vals[0])
	}
	return f, nil
}

// splitParam splits a comma-separated parameter. A present but blank
// parameter yields an empty, non-nil list.
func splitParam(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeServiceError maps an error from the service layer to a status code.
func writeServiceError(w http.ResponseWriter, err error) {
	var ie inputError
	if errors.As(err, &ie) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
