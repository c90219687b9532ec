package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = time.Minute
)

// VisitorResolver returns the visitor a request belongs to.
type VisitorResolver func(r *http.Request) (string, bool)

// Handler serves GET /api/v1/events.
type Handler struct {
	manager   *Manager
	visitorOf VisitorResolver
	logger    *slog.Logger
}

// NewHandler returns a Handler that opens streams on manager.
func NewHandler(manager *Manager, visitorOf VisitorResolver, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, visitorOf: visitorOf, logger: logger}
}

// stream writes event frames to one response.
type stream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s stream) send(name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, body); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	// Not every ResponseWriter supports deadlines.
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	visitorID, ok := h.visitorOf(r)
	if !ok {
		http.Error(w, "Unknown visitor", http.StatusUnauthorized)
		return
	}
	if r.Context().Err() != nil {
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	out := stream{w: w, rc: http.NewResponseController(w)}
	if err := out.rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(visitorID)
	if err != nil {
		h.logger.Error("failed to register SSE client", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	log := h.logger.With(slog.String("client_id", client.ID))
	if err := out.send("connected", map[string]string{"client_id": client.ID}); err != nil {
		log.Debug("client gone before first frame", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		var ev Event
		select {
		case e, open := <-client.EventChan:
			if !open {
				return
			}
			ev = e
		case <-ticker.C:
			ev = NewHeartbeatEvent()
		case <-client.Done:
			return
		case <-r.Context().Done():
			return
		}

		if err := out.send(string(ev.Type), ev); err != nil {
			log.Debug("client disconnected", slog.String("error", err.Error()))
			return
		}
	}
}
