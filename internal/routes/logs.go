package routes

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rvanholten/opsdesk/internal/diag"
)

// RegisterLogs mounts the diagnostics log API. A nil buffer mounts nothing.
func RegisterLogs(mux *http.ServeMux, logs *diag.LogBuffer) {
	if logs == nil {
		return
	}

	// GET /api/logs - snapshot of the captured log, oldest first.
	handleGet(mux, "/api/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logs.Snapshot())
	})

	// GET /api/logs/stream - SSE tail of new lines, no snapshot replay.
	handleGet(mux, "/api/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch, cancel := logs.Subscribe()
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
