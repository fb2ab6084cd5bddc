package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"janim-toolbox/internal/client"
	"janim-toolbox/internal/session"
)

type windowResponse struct {
	Marks    []int `json:"marks"`
	LastMark int   `json:"lastMark"`
	Empty    bool  `json:"empty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.client.Status())
}

func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	st := s.client.Status()
	marks := st.Marks
	if marks == nil {
		marks = []int{}
	}
	writeJSON(w, http.StatusOK, windowResponse{Marks: marks, LastMark: st.LastMark, Empty: len(marks) == 0})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.client.Status().Position)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events := s.client.Events().History()
	if events == nil {
		events = []client.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ep, err := s.client.Connect(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrNoCandidates) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	if ep == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.client.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
