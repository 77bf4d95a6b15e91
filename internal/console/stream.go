package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/validation"
)

var streamKinds = []string{
	string(events.KindTemplatesChanged),
	string(events.KindProposalsChanged),
	string(events.KindContractChanged),
	string(events.KindRouteChanged),
}

type readyEvent struct {
	Kinds       []events.Kind `json:"kinds"`
	LastRefresh *time.Time    `json:"last_template_refresh,omitempty"`
}

// parseKinds reads ?kinds=a,b. No kinds means every kind.
func parseKinds(s string) ([]events.Kind, []validation.ValidationError) {
	var (
		c     validation.Collector
		kinds []events.Kind
	)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := validation.ValidateEnum("kinds", part, streamKinds); err != nil {
			c.Add(err)
			continue
		}
		kinds = append(kinds, events.Kind(part))
	}
	return kinds, c.Errors()
}

// Events handles GET /events, a server-sent event stream of bus events.
// The first event is "ready" with the last template refresh time; idle
// connections get a comment ping every heartbeat.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	kinds, errs := parseKinds(r.URL.Query().Get("kinds"))
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Invalid stream parameters", errs)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	if h.Bus == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Event bus not configured")
		return
	}

	// The server write timeout would cut the stream off.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("clear stream write deadline", "component", "console", "error", err)
	}

	sub := h.Bus.Subscribe(kinds...)
	defer sub.Close()
	if h.Metrics != nil {
		h.Metrics.StreamOpened()
		defer h.Metrics.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "", "ready", readyEvent{Kinds: kinds, LastRefresh: h.lastRefresh()}); err != nil {
		return
	}
	flusher.Flush()

	slog.Debug("event stream opened", "component", "console", "remote_ip", r.RemoteAddr)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("event stream closed", "component", "console", "remote_ip", r.RemoteAddr)
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, e.ID, string(e.Kind), e); err != nil {
				slog.Warn("event stream write failed", "component", "console", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, id, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
