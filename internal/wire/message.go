package wire

import (
	"encoding/json"
	"fmt"
)

// Message is one JAnim command or event. On the wire it is nested under a
// top-level "janim" object.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type envelope struct {
	Janim *Message `json:"janim"`
}

// Client → remote message types.
const (
	TypeFind                 = "find"
	TypeRegisterClient       = "register_client"
	TypeListenCloseEvent     = "listen_close_event"
	TypeExecCode             = "exec_code"
	TypeUndoCode             = "undo_code"
	TypeFileSaved            = "file_saved"
	TypeReload               = "reload"
	TypeDisplayChildrenIndex = "display_children_index"
)

// Remote → client message types.
const (
	TypeFindReply  = "find_re"
	TypeCloseEvent = "close_event"
	TypeRebuilt    = "rebuilt"
	TypeLineNo     = "lineno"
)

// NewMessage builds a message, marshalling data when it is non-nil.
func NewMessage(msgType string, data interface{}) (*Message, error) {
	msg := &Message{Type: msgType}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	msg.Data = raw
	return msg, nil
}

// Encode renders msg as a datagram payload.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil || msg.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	return json.Marshal(envelope{Janim: msg})
}

func mustMessage(msgType string, data interface{}) *Message {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		// Only strings reach here, which always marshal.
		panic(err)
	}
	return msg
}

// Find is the discovery probe.
func Find() *Message { return mustMessage(TypeFind, nil) }

// RegisterClient binds the sender as the remote's active listener.
func RegisterClient() *Message { return mustMessage(TypeRegisterClient, nil) }

// ListenCloseEvent opts in to close_event notifications.
func ListenCloseEvent() *Message { return mustMessage(TypeListenCloseEvent, nil) }

// ExecCode asks the remote to execute a source range.
func ExecCode(text string) *Message { return mustMessage(TypeExecCode, text) }

// UndoCode pops the last executed unit on the remote side.
func UndoCode() *Message { return mustMessage(TypeUndoCode, nil) }

// FileSaved tells the remote that path was written to disk.
func FileSaved(path string) *Message { return mustMessage(TypeFileSaved, path) }

// Reload asks the remote to reload. An empty path sends no data.
func Reload(path string) *Message {
	if path == "" {
		return mustMessage(TypeReload, nil)
	}
	return mustMessage(TypeReload, path)
}

// DisplayChildrenIndex requests the children index overlay for an object.
func DisplayChildrenIndex(name string) *Message {
	return mustMessage(TypeDisplayChildrenIndex, name)
}

// FindReply is the payload of a find_re datagram.
type FindReply struct {
	Port     int    `json:"port"`
	FilePath string `json:"file_path"`
}

// UnmarshalJSON accepts both file_path and filePath spellings.
func (r *FindReply) UnmarshalJSON(data []byte) error {
	var raw struct {
		Port      int    `json:"port"`
		FilePath  string `json:"file_path"`
		FilePath2 string `json:"filePath"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Port = raw.Port
	r.FilePath = raw.FilePath
	if r.FilePath == "" {
		r.FilePath = raw.FilePath2
	}
	return nil
}

// FindReply decodes the payload of a find_re message.
func (m *Message) FindReply() (FindReply, error) {
	var reply FindReply
	if m.Type != TypeFindReply {
		return reply, fmt.Errorf("not a %s message: %s", TypeFindReply, m.Type)
	}
	if len(m.Data) == 0 {
		return reply, fmt.Errorf("missing data in %s", m.Type)
	}
	if err := json.Unmarshal(m.Data, &reply); err != nil {
		return reply, fmt.Errorf("invalid data for %s: %w", m.Type, err)
	}
	return reply, nil
}

// LineNo decodes the 1-based line of a lineno message.
func (m *Message) LineNo() (int, error) {
	if m.Type != TypeLineNo {
		return 0, fmt.Errorf("not a %s message: %s", TypeLineNo, m.Type)
	}
	var line int
	if err := json.Unmarshal(m.Data, &line); err != nil {
		return 0, fmt.Errorf("invalid data for %s: %w", m.Type, err)
	}
	return line, nil
}

// Text decodes a string payload (exec_code, file_saved, reload, display_children_index).
func (m *Message) Text() (string, error) {
	if len(m.Data) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", fmt.Errorf("invalid data for %s: %w", m.Type, err)
	}
	return s, nil
}
