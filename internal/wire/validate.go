package wire

import (
	"encoding/json"
	"fmt"
)

// validRemoteTypes is the set of message types a remote engine may send.
var validRemoteTypes = map[string]bool{
	TypeFindReply:  true,
	TypeCloseEvent: true,
	TypeRebuilt:    true,
	TypeLineNo:     true,
}

// DecodeRemoteMessage parses and validates a datagram from a remote engine.
func DecodeRemoteMessage(raw []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if env.Janim == nil {
		return nil, fmt.Errorf("missing 'janim' object")
	}
	msg := env.Janim

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}
	if !validRemoteTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	switch msg.Type {
	case TypeFindReply:
		reply, err := msg.FindReply()
		if err != nil {
			return nil, err
		}
		if reply.Port <= 0 || reply.Port > 65535 {
			return nil, fmt.Errorf("invalid port %d in %s data", reply.Port, msg.Type)
		}
		if reply.FilePath == "" {
			return nil, fmt.Errorf("missing required field 'file_path' in %s data", msg.Type)
		}

	case TypeLineNo:
		line, err := msg.LineNo()
		if err != nil {
			return nil, err
		}
		if line < 1 {
			return nil, fmt.Errorf("line %d in %s is not 1-based", line, msg.Type)
		}
	}

	return msg, nil
}
