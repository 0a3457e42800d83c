// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/steward/internal/events"
)

const (
	sseBuffer    = 64
	sseKeepAlive = 15 * time.Second
)

func (s *Server) registerSSERoute() {
	s.router.Get("/api/v1/events", s.handleEvents)

	// The stream needs raw http.ResponseWriter access, so it is served by
	// the chi route above and only documented through huma.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events",
		Summary:     "Stream control loop events via SSE",
		Description: "Streams health snapshots, breaker transitions, recovery reports and task and child state changes. " +
			"Use the types query parameter (comma separated) to filter by event type.",
		Tags: []string{"events"},
		Parameters: []*huma.Param{{
			Name:        "types",
			In:          "query",
			Description: "Comma separated event types to include",
			Schema:      &huma.Schema{Type: "string"},
		}},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
				},
			},
			"503": {Description: "Event source not configured"},
		},
	})
}

func parseTypes(raw string) map[events.Type]bool {
	if raw == "" {
		return nil
	}
	want := map[events.Type]bool{}
	for t := range strings.SplitSeq(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			want[events.Type(t)] = true
		}
	}
	return want
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.services == nil || s.services.events == nil {
		http.Error(w, `{"error":"event source not configured"}`, http.StatusServiceUnavailable)
		return
	}
	want := parseTypes(r.URL.Query().Get("types"))

	ch, cancel := s.services.events.Subscribe(sseBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("event stream: write deadline not adjustable", "error", err)
	}
	flush := func() {
		// httptest.ResponseRecorder supports Flush; other writers may not.
		_ = rc.Flush()
	}
	flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if want != nil && !want[ev.Type] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("event stream: encoding event", "event_type", ev.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flush()
		}
	}
}
