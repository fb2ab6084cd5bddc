package realtime

import (
	"context"
	"encoding/json"

	"janim-toolbox/internal/protocol"
	"janim-toolbox/internal/session"

	"github.com/google/uuid"
)

// Pick implements session.Picker by asking every connected editor to choose
// a candidate. The first session.pick answer wins. With no editor connected
// the selection counts as cancelled.
func (s *Server) Pick(ctx context.Context, candidates []session.Candidate) (session.Candidate, bool, error) {
	id := uuid.New().String()
	answer := make(chan int, 1)

	s.pendingMu.Lock()
	s.pending[id] = answer
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	payload := protocol.CandidatesPickPayload{RequestID: id}
	for i, c := range candidates {
		payload.Candidates = append(payload.Candidates, protocol.CandidatePayload{
			Index:    i,
			Address:  c.Address.String(),
			Port:     c.Port,
			FilePath: c.FilePath,
		})
	}
	msg, err := protocol.NewMessage(protocol.TypeCandidatesPick, payload)
	if err != nil {
		return session.Candidate{}, false, err
	}
	if s.broadcast(msg) == 0 {
		s.logger.Info("no editor to pick a janim instance", "candidates", len(candidates))
		return session.Candidate{}, false, nil
	}

	select {
	case idx := <-answer:
		if idx < 0 || idx >= len(candidates) {
			return session.Candidate{}, false, nil
		}
		return candidates[idx], true, nil
	case <-ctx.Done():
		return session.Candidate{}, false, ctx.Err()
	case <-s.ctx.Done():
		return session.Candidate{}, false, nil
	}
}

func (s *Server) handlePick(e *editor, msg *protocol.Message) {
	var p protocol.SessionPickPayload
	json.Unmarshal(msg.Payload, &p)

	s.pendingMu.Lock()
	answer, ok := s.pending[p.RequestID]
	if ok {
		delete(s.pending, p.RequestID)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.sendError(e, protocol.ErrUnknownRequest, "no pending pick: "+p.RequestID)
		return
	}
	answer <- *p.Index
}

// cancelPicks resolves every pending pick as cancelled.
func (s *Server) cancelPicks() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, answer := range s.pending {
		delete(s.pending, id)
		answer <- -1
	}
}
