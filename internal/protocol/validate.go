package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed editor→bridge message types. The
// value reports whether the type requires a payload.
var validClientTypes = map[string]bool{
	TypeDocOpen:        true,
	TypeDocChange:      true,
	TypeDocSave:        true,
	TypeDocClose:       true,
	TypeViewsUpdate:    true,
	TypeExecCode:       true,
	TypeExecUndo:       false,
	TypeSessionConnect: false,
	TypeSessionReset:   false,
	TypeSessionReload:  false,
	TypeSessionPick:    true,
	TypeDebugChildren:  true,
	TypeLocateToggle:   false,
}

// ValidateClientMessage validates a raw JSON message from an editor.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	needsPayload, ok := validClientTypes[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if needsPayload && len(msg.Payload) == 0 {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeDocOpen:
		var p DocOpenPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missingField(msg.Type, "path")
		}

	case TypeDocChange:
		var p DocChangePayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missingField(msg.Type, "path")
		}
		if len(p.Changes) == 0 {
			return nil, missingField(msg.Type, "changes")
		}

	case TypeDocSave, TypeDocClose:
		var p DocPathPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missingField(msg.Type, "path")
		}

	case TypeViewsUpdate:
		var p ViewsUpdatePayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missingField(msg.Type, "path")
		}

	case TypeExecCode:
		var p ExecCodePayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missingField(msg.Type, "path")
		}
		if p.Selection.Start.Line < 0 || p.Selection.End.Line < 0 {
			return nil, fmt.Errorf("negative line in %s selection", msg.Type)
		}

	case TypeSessionReload:
		if len(msg.Payload) > 0 {
			var p ReloadPayload
			if err := decodePayload(&msg, &p); err != nil {
				return nil, err
			}
		}

	case TypeSessionPick:
		var p SessionPickPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.RequestID == "" {
			return nil, missingField(msg.Type, "requestId")
		}
		if p.Index == nil {
			return nil, missingField(msg.Type, "index")
		}

	case TypeDebugChildren:
		var p DebugChildrenPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, missingField(msg.Type, "name")
		}
	}

	return &msg, nil
}

func decodePayload(msg *Message, v interface{}) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	return nil
}

func missingField(msgType, field string) error {
	return fmt.Errorf("missing required field '%s' in %s payload", field, msgType)
}

// NewErrorMessage creates an error message ready to send to an editor.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
