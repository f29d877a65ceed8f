package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	heartbeatInterval = 15 * time.Second
	retryHintMS       = 3000
)

// SSEHandler streams broker events. ?feeds=transition,relay narrows the
// stream; unknown feed names simply never match.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		feeds := parseFeeds(r.URL.Query().Get("feeds"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := broker.Subscribe(feeds...)
		defer broker.Unsubscribe(id)
		slog.Debug("status stream opened", "subscriber", id, "feeds", feeds)

		fmt.Fprintf(w, "retry: %d\n: connected\n\n", retryHintMS)
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				slog.Debug("status stream closed", "subscriber", id)
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				writeEvent(w, evt)
				flusher.Flush()
			}
		}
	}
}

func parseFeeds(q string) []string {
	if q == "" {
		return nil
	}
	var feeds []string
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

func writeEvent(w http.ResponseWriter, evt Event) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
}
