package position

import (
	"context"
	"sync"

	"janim-toolbox/internal/logx"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/wire"

	"pkt.systems/pslog"
)

// None is the line value when no position is known.
const None = -1

// Status is the indicator state.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusShown            Status = "shown"
	StatusSuppressedByEdit Status = "suppressed_by_edit"
	StatusSuppressedBySave Status = "suppressed_by_save"
)

// State is a snapshot of the synchronizer.
type State struct {
	Status Status `json:"status"`
	// CurrentLine is the 0-based line last reported by the remote, or None.
	CurrentLine      int  `json:"currentLine"`
	Suppressed       bool `json:"suppressed"`
	SuppressedBySave bool `json:"suppressedBySave"`
	AutoLocate       bool `json:"autoLocate"`
}

// View is one visible editor view of the bound document.
type View interface {
	ID() string
	ShowLine(line int)
	ClearLine()
	Reveal(line int)
}

// Session is the part of the session manager the synchronizer needs.
type Session interface {
	Endpoint() (session.Endpoint, bool)
	Send(ctx context.Context, msg *wire.Message) error
}

// Synchronizer keeps the remote execution line indicator consistent with
// local edits and saves.
type Synchronizer struct {
	mu         sync.Mutex
	sess       Session
	logger     pslog.Logger
	status     Status
	line       int
	revealed   int
	quietNext  bool
	autoLocate bool
	views      []View
}

// New creates an idle synchronizer.
func New(sess Session, autoLocate bool, logger pslog.Logger) *Synchronizer {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Synchronizer{
		sess:       sess,
		logger:     logger,
		status:     StatusIdle,
		line:       None,
		revealed:   None,
		autoLocate: autoLocate,
	}
}

// State returns a snapshot.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Status:           s.status,
		CurrentLine:      s.line,
		Suppressed:       s.suppressed(),
		SuppressedBySave: s.status == StatusSuppressedBySave,
		AutoLocate:       s.autoLocate,
	}
}

// HandleMessage applies lineno and rebuilt events. It reports whether the
// message was consumed.
func (s *Synchronizer) HandleMessage(msg *wire.Message) bool {
	switch msg.Type {
	case wire.TypeLineNo:
		line, err := msg.LineNo()
		if err != nil {
			s.logger.Debug("lineno dropped", "err", err)
			return true
		}
		s.showLine(line - 1)
		return true

	case wire.TypeRebuilt:
		s.mu.Lock()
		if s.suppressed() {
			s.logger.Debug("position suppression cleared", "was", s.status)
		}
		s.status = StatusIdle
		s.line = None
		s.clearViews()
		s.mu.Unlock()
		return true
	}
	return false
}

func (s *Synchronizer) showLine(line int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suppressed() {
		return
	}
	s.status = StatusShown
	s.line = line
	for _, v := range s.views {
		v.ShowLine(line)
	}

	if s.quietNext {
		s.quietNext = false
		s.revealed = line
		return
	}
	if s.autoLocate && line != s.revealed {
		s.revealed = line
		for _, v := range s.views {
			v.Reveal(line)
		}
	}
}

// OnEdit suppresses the indicator when path is the bound document.
func (s *Synchronizer) OnEdit(path string) {
	ep, ok := s.sess.Endpoint()
	if !ok || !ep.Owns(path) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSuppressedByEdit {
		logx.WithPath(s.logger, path).Debug("position suppressed", "reason", "edit")
	}
	s.status = StatusSuppressedByEdit
	s.line = None
	s.revealed = None
	s.quietNext = false
	s.clearViews()
}

// OnSave notifies the remote that the bound document was saved and
// suppresses the indicator until the remote has rebuilt.
func (s *Synchronizer) OnSave(ctx context.Context, path string) error {
	ep, ok := s.sess.Endpoint()
	if !ok || !ep.Owns(path) {
		return nil
	}

	s.mu.Lock()
	s.status = StatusSuppressedBySave
	s.line = None
	s.quietNext = true
	s.clearViews()
	s.mu.Unlock()

	logx.WithPath(s.logger, path).Debug("position suppressed", "reason", "save")
	return s.sess.Send(ctx, wire.FileSaved(ep.FilePath))
}

// Clear forces the idle state, e.g. after the remote closed the session.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.line = None
	s.revealed = None
	s.quietNext = false
	s.clearViews()
}

// SetViews replaces the visible views of path and reapplies the current
// state to them. Views of documents other than the bound one are dropped.
func (s *Synchronizer) SetViews(path string, views []View) {
	ep, ok := s.sess.Endpoint()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok && ep.FilePath != "" && !ep.Owns(path) {
		return
	}
	for _, v := range s.views {
		v.ClearLine()
	}
	s.views = append([]View(nil), views...)
	for _, v := range s.views {
		if s.status == StatusShown {
			v.ShowLine(s.line)
		} else {
			v.ClearLine()
		}
	}
}

// Views returns the currently bound views.
func (s *Synchronizer) Views() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]View(nil), s.views...)
}

// SetAutoLocate changes whether new positions scroll the views.
func (s *Synchronizer) SetAutoLocate(on bool) {
	s.mu.Lock()
	s.autoLocate = on
	s.mu.Unlock()
}

// ToggleAutoLocate flips auto-locate and returns the new value.
func (s *Synchronizer) ToggleAutoLocate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoLocate = !s.autoLocate
	return s.autoLocate
}

func (s *Synchronizer) suppressed() bool {
	return s.status == StatusSuppressedByEdit || s.status == StatusSuppressedBySave
}

func (s *Synchronizer) clearViews() {
	for _, v := range s.views {
		v.ClearLine()
	}
}
