// Package routes exposes the call service to the desktop UI over local HTTP.
// The UI only ever observes status transitions; every failure below has
// already been converted into a terminal status plus a readable reason.
package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rvanholten/opsdesk/internal/call"
	"github.com/rvanholten/opsdesk/internal/history"
	"github.com/rvanholten/opsdesk/internal/signaling"
)

// SessionStatus is the render model for one session.
type SessionStatus struct {
	ChatID    string `json:"chat_id"`
	RemoteID  string `json:"remote_id"`
	Direction string `json:"direction"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Seconds   int64  `json:"seconds"`
	AudioOn   bool   `json:"audio_on"`
	VideoOn   bool   `json:"video_on"`
	Source    string `json:"video_source"`
	SpeakerOn bool   `json:"speaker_on"`
}

func statusOf(s *call.Session) SessionStatus {
	st, reason := s.Status()
	return SessionStatus{
		ChatID:    s.ChatID,
		RemoteID:  s.RemoteID(),
		Direction: string(s.Direction()),
		Kind:      string(s.Kind()),
		Status:    string(st),
		Reason:    reason,
		Seconds:   int64(s.Duration() / time.Second),
		AudioOn:   s.Media().AudioOn(),
		VideoOn:   s.Media().VideoOn(),
		Source:    string(s.Media().Source()),
		SpeakerOn: s.Media().SpeakerOn(),
	}
}

// RegisterCall mounts the call API. hist may be nil.
func RegisterCall(mux *http.ServeMux, mgr *call.Manager, hist *history.Store) {
	type chatReq struct {
		ChatID string `json:"chat_id"`
	}

	// GET /api/call/sessions - all active sessions for rendering.
	handleGet(mux, "/api/call/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := mgr.AllSessions()
		out := make([]SessionStatus, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, statusOf(s))
		}
		writeJSON(w, map[string]any{"session_count": len(out), "sessions": out})
	})

	// POST /api/call/start
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		ChatID   string `json:"chat_id"`
		RemoteID string `json:"remote_id"`
		Kind     string `json:"kind"`
	}) {
		if req.ChatID == "" || req.RemoteID == "" {
			http.Error(w, "missing chat_id or remote_id", http.StatusBadRequest)
			return
		}
		kind := signaling.CallKind(req.Kind)
		if kind == "" {
			kind = signaling.KindVideo
		}
		sess, err := mgr.StartCall(req.ChatID, req.RemoteID, kind)
		if err != nil {
			http.Error(w, fmt.Sprintf("start call failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, statusOf(sess))
	})

	// POST /api/call/accept
	handlePost(mux, "/api/call/accept", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		if req.ChatID == "" {
			http.Error(w, "missing chat_id", http.StatusBadRequest)
			return
		}
		sess, err := mgr.Accept(req.ChatID)
		if err != nil {
			http.Error(w, fmt.Sprintf("accept failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, statusOf(sess))
	})

	// POST /api/call/reject - declines a pending call, or rejects an active one.
	handlePost(mux, "/api/call/reject", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		if sess, ok := mgr.GetSession(req.ChatID); ok {
			sess.Reject()
			writeJSON(w, map[string]string{"status": "rejected"})
			return
		}
		if err := mgr.Decline(req.ChatID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "rejected"})
	})

	// POST /api/call/hangup - idempotent; hanging up twice is fine.
	handlePost(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		sess, ok := mgr.GetSession(req.ChatID)
		if !ok {
			writeJSON(w, map[string]string{"status": "not_found"})
			return
		}
		sess.End()
		writeJSON(w, map[string]string{"status": "ended"})
	})

	// POST /api/call/toggle-audio
	handlePost(mux, "/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		sess, ok := mgr.GetSession(req.ChatID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]bool{"muted": sess.Media().ToggleAudio()})
	})

	// POST /api/call/toggle-video
	handlePost(mux, "/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		sess, ok := mgr.GetSession(req.ChatID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		disabled, err := sess.Media().ToggleVideo()
		if err != nil {
			http.Error(w, fmt.Sprintf("toggle video failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"disabled": disabled})
	})

	// POST /api/call/toggle-screenshare
	handlePost(mux, "/api/call/toggle-screenshare", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		sess, ok := mgr.GetSession(req.ChatID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		media := sess.Media()
		var err error
		sharing := media.Source() == call.SourceScreen
		if sharing {
			err = media.StopScreenShare()
		} else {
			err = media.StartScreenShare()
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("screen share failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"sharing": !sharing})
	})

	// POST /api/call/toggle-speaker
	handlePost(mux, "/api/call/toggle-speaker", func(w http.ResponseWriter, r *http.Request, req chatReq) {
		sess, ok := mgr.GetSession(req.ChatID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]bool{"speaker_off": sess.Media().ToggleSpeaker()})
	})

	// GET /api/call/history
	handleGet(mux, "/api/call/history", func(w http.ResponseWriter, r *http.Request) {
		if hist == nil {
			writeJSON(w, []history.Entry{})
			return
		}
		entries, err := hist.Recent(atoiOr(r.URL.Query().Get("limit"), 50))
		if err != nil {
			http.Error(w, fmt.Sprintf("read history: %v", err), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		writeJSON(w, entries)
	})

	// GET /api/call/events - SSE stream of incoming calls and status changes.
	// Each connection holds its own subscription, released on disconnect so
	// the manager never accumulates stale listeners.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		events, cancel := mgr.Subscribe()
		defer cancel()

		fmt.Fprint(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
			}
		}
	})
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return def
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
