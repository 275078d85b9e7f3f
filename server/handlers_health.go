package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/irclogger/chatlog"
	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/session"
)

// HandleHealthz responds to liveness probes while the process is serving.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the session has joined a channel.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := session.Disconnected
	if h.src.Session != nil {
		state = h.src.Session.Snapshot().State
	}
	if state != session.Active {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"state":  state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Session  *session.Snapshot       `json:"session,omitempty"`
	Channels map[string]int          `json:"channels"`
	Logs     []chatlog.ChannelStatus `json:"logs"`
}

// HandleStatus returns a JSON snapshot of the session, rosters and log files.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{Channels: map[string]int{}, Logs: []chatlog.ChannelStatus{}}
	if h.src.Session != nil {
		snap := h.src.Session.Snapshot()
		resp.Session = &snap
		for _, ch := range snap.Joined {
			resp.Channels[ircproto.Fold(ch)] = 0
		}
	}
	if h.src.Roster != nil {
		for ch, n := range h.src.Roster.Counts() {
			resp.Channels[ch] = n
		}
	}
	if h.src.Logs != nil {
		resp.Logs = h.src.Logs.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
