package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/events"
)

// keepAlive is how often an idle stream gets a comment line.
const keepAlive = 15 * time.Second

// HandleEvents streams bus messages as Server-Sent Events. The topics query
// parameter narrows the stream (comma separated); the default is every topic.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, unsubscribe := h.deps.Bus.Subscribe(topics...)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			err := writeEvent(w, msg)
			h.deps.Bus.Acknowledge(msg)
			if err != nil {
				h.log.Debug("Event stream closed.", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg events.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Topic, data)
	return err
}

func parseTopics(raw string) ([]events.Topic, error) {
	all := []events.Topic{events.TopicLog, events.TopicProgress, events.TopicJob}
	if strings.TrimSpace(raw) == "" {
		return all, nil
	}
	var out []events.Topic
	for _, part := range strings.Split(raw, ",") {
		t := events.Topic(strings.TrimSpace(part))
		switch t {
		case events.TopicLog, events.TopicProgress, events.TopicJob:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown topic %q", t)
		}
	}
	return out, nil
}
