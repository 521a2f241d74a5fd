package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/torii/pkg/agent"
	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/events"
)

// handleChatStream runs the agent loop and relays its events as SSE
// frames. Guard failures (validation, unknown provider, tools_required
// with an empty catalog) are returned as plain JSON errors before any
// stream bytes, so clients can branch on the status code.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	started := time.Now()
	bus, err := s.deps.Engine.Execute(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apierror.New(apierror.CodeInternal, "streaming is not supported by this connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		event, err := bus.Next(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, events.ErrIdleTimeout):
				s.sendFrame(w, flusher, events.NewError(string(apierror.CodeTimeout),
					"agent produced no events within the idle window"))
			case r.Context().Err() != nil:
				// Client went away; the engine observes the same cancel.
				slog.Debug("SSE client disconnected", "path", r.URL.Path)
			default:
				slog.Error("Event stream failed", "error", err)
			}
			return
		}

		s.sendFrame(w, flusher, event)

		if event.Terminal() {
			if done, ok := event.(*events.Done); ok {
				s.deps.Obs.Metrics().RecordChatRequest(r.Context(),
					req.AgentConfig.Provider, req.AgentConfig.Model,
					time.Since(started), done.Metadata.TokensUsed.Total, nil)
			}
			return
		}
	}
}

// sendFrame writes one `data: <json>` frame and flushes it.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal stream event", "type", event.EventType(), "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
