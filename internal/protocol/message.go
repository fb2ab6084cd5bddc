package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"janim-toolbox/internal/document"
)

// Message is the envelope for all bridge WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a bridge-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Bridge → editor message types.
const (
	TypeSessionUpdate  = "session.update"
	TypeWindowUpdate   = "window.update"
	TypePositionShow   = "position.show"
	TypePositionClear  = "position.clear"
	TypePositionReveal = "position.reveal"
	TypeCandidatesPick = "candidates.pick"
	TypeNotice         = "notice"
	TypeError          = "error"
)

// Editor → bridge message types.
const (
	TypeDocOpen        = "doc.open"
	TypeDocChange      = "doc.change"
	TypeDocSave        = "doc.save"
	TypeDocClose       = "doc.close"
	TypeViewsUpdate    = "views.update"
	TypeExecCode       = "exec.code"
	TypeExecUndo       = "exec.undo"
	TypeSessionConnect = "session.connect"
	TypeSessionReset   = "session.reset"
	TypeSessionReload  = "session.reload"
	TypeSessionPick    = "session.pick"
	TypeDebugChildren  = "debug.children"
	TypeLocateToggle   = "locate.toggle"
)

// Error codes.
const (
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrNoCandidates    = "NO_CANDIDATES"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrForeignDocument = "FOREIGN_DOCUMENT"
	ErrDocumentNotOpen = "DOCUMENT_NOT_OPEN"
	ErrInvalidChange   = "INVALID_CHANGE"
	ErrUnknownRequest  = "UNKNOWN_REQUEST"
	ErrCommandFailed   = "COMMAND_FAILED"
)

// Bridge → editor payloads.

type SessionUpdatePayload struct {
	State      string `json:"state"`
	Address    string `json:"address,omitempty"`
	Port       int    `json:"port,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	LastMark   int    `json:"lastMark"`
	AutoLocate bool   `json:"autoLocate"`
}

type WindowUpdatePayload struct {
	Marks    []int            `json:"marks"`
	LastMark int              `json:"lastMark"`
	Dispatch *DispatchPayload `json:"dispatch,omitempty"`
}

type DispatchPayload struct {
	Mode   string `json:"mode"`
	First  int    `json:"first"`
	Last   int    `json:"last"`
	Undone int    `json:"undone"`
}

// PositionPayload addresses one editor view. Line is 0-based and omitted
// for position.clear.
type PositionPayload struct {
	Path   string `json:"path"`
	ViewID string `json:"viewId"`
	Line   *int   `json:"line,omitempty"`
}

type CandidatesPickPayload struct {
	RequestID  string             `json:"requestId"`
	Candidates []CandidatePayload `json:"candidates"`
}

type CandidatePayload struct {
	Index    int    `json:"index"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	FilePath string `json:"filePath"`
}

type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Editor → bridge payloads.

type DocOpenPayload struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// DocChangePayload carries the content changes of one editor event. Every
// range refers to the document as it was before the event.
type DocChangePayload struct {
	Path    string            `json:"path"`
	Changes []document.Change `json:"changes"`
}

type DocPathPayload struct {
	Path string `json:"path"`
}

type ViewsUpdatePayload struct {
	Path  string   `json:"path"`
	Views []string `json:"views"`
}

// ExecCodePayload carries the selection to execute. When Text is set it
// replaces the bridge's copy of the document first.
type ExecCodePayload struct {
	Path      string         `json:"path"`
	Selection document.Range `json:"selection"`
	Text      *string        `json:"text,omitempty"`
}

type ReloadPayload struct {
	Path string `json:"path,omitempty"`
}

// SessionPickPayload answers a candidates.pick. A negative Index cancels.
type SessionPickPayload struct {
	RequestID string `json:"requestId"`
	Index     *int   `json:"index"`
}

type DebugChildrenPayload struct {
	Name string `json:"name"`
}
