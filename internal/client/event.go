package client

import (
	"time"

	"janim-toolbox/internal/position"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/window"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventSession  EventKind = "session"
	EventWindow   EventKind = "window"
	EventPosition EventKind = "position"
	EventNotice   EventKind = "notice"
)

// Event is one state change published by the client.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Session  *SessionChange  `json:"session,omitempty"`
	Window   *WindowChange   `json:"window,omitempty"`
	Position *position.State `json:"position,omitempty"`
	Notice   *Notice         `json:"notice,omitempty"`
}

// SessionChange carries the session state after a change.
type SessionChange struct {
	State    session.State     `json:"state"`
	Endpoint *session.Endpoint `json:"endpoint,omitempty"`
}

// WindowChange carries the execution window after a change. Dispatch is set
// when the change came from an exec_code.
type WindowChange struct {
	Marks    []int            `json:"marks"`
	LastMark int              `json:"lastMark"`
	Dispatch *window.Dispatch `json:"dispatch,omitempty"`
	Popped   int              `json:"popped,omitempty"`
}

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient status message for the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
