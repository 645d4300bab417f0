package relay

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events as server-sent events. Clients may pick
// feeds with ?feeds=a,b. replay, when set, supplies the events each client
// receives right after subscribing.
func SSEHandler(broker *Broker, replay func() []Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		feeds := parseFeeds(r.URL.Query().Get("feeds"))
		filter := &subscriber{}
		if len(feeds) > 0 {
			filter.feeds = make(map[string]bool, len(feeds))
			for _, f := range feeds {
				filter.feeds[f] = true
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe(feeds...)
		defer broker.Unsubscribe(id)

		send := func(evt Event) {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Feed, evt.Payload)
			flusher.Flush()
		}
		if replay != nil {
			for _, evt := range replay() {
				if filter.wants(evt.Feed) {
					send(evt)
				}
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				send(evt)
			}
		}
	}
}

func parseFeeds(q string) []string {
	var out []string
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
