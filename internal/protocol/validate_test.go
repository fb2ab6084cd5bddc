package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func clientMessage(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNewMessage(t *testing.T) {
	line := 6
	msg, err := NewMessage(TypePositionShow, PositionPayload{Path: "/work/scene.py", ViewID: "v1", Line: &line})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Type != TypePositionShow {
		t.Errorf("expected type %s, got %s", TypePositionShow, msg.Type)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p PositionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Line == nil || *p.Line != 6 {
		t.Errorf("expected line 6, got %v", p.Line)
	}
}

func TestNewMessage_ClearOmitsLine(t *testing.T) {
	msg, err := NewMessage(TypePositionClear, PositionPayload{Path: "/work/scene.py", ViewID: "v1"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if string(msg.Payload) != `{"path":"/work/scene.py","viewId":"v1"}` {
		t.Errorf("unexpected payload %s", msg.Payload)
	}
}

func TestValidateClientMessage_Valid(t *testing.T) {
	tests := []struct {
		msgType string
		payload interface{}
	}{
		{TypeDocOpen, map[string]interface{}{"path": "/a.py", "text": ""}},
		{TypeDocChange, map[string]interface{}{"path": "/a.py", "changes": []interface{}{
			map[string]interface{}{
				"range": map[string]interface{}{
					"start": map[string]int{"line": 0, "character": 0},
					"end":   map[string]int{"line": 0, "character": 0},
				},
				"text": "x",
			},
		}}},
		{TypeDocSave, map[string]interface{}{"path": "/a.py"}},
		{TypeDocClose, map[string]interface{}{"path": "/a.py"}},
		{TypeViewsUpdate, map[string]interface{}{"path": "/a.py", "views": []string{}}},
		{TypeExecCode, map[string]interface{}{"path": "/a.py", "selection": map[string]interface{}{
			"start": map[string]int{"line": 3, "character": 0},
			"end":   map[string]int{"line": 3, "character": 0},
		}}},
		{TypeExecUndo, nil},
		{TypeSessionConnect, nil},
		{TypeSessionReset, map[string]interface{}{}},
		{TypeSessionReload, nil},
		{TypeSessionReload, map[string]interface{}{"path": "/a.py"}},
		{TypeSessionPick, map[string]interface{}{"requestId": "r1", "index": -1}},
		{TypeDebugChildren, map[string]interface{}{"name": "circle"}},
		{TypeLocateToggle, nil},
	}
	for _, tt := range tests {
		msg, err := ValidateClientMessage(clientMessage(t, tt.msgType, tt.payload))
		if err != nil {
			t.Errorf("%s: expected valid message, got error: %v", tt.msgType, err)
			continue
		}
		if msg.Type != tt.msgType {
			t.Errorf("expected type %s, got %s", tt.msgType, msg.Type)
		}
	}
}

func TestValidateClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{"missing type", "", map[string]interface{}{}},
		{"unknown type", "unknown.action", map[string]interface{}{}},
		{"bridge type from editor", TypeSessionUpdate, map[string]interface{}{}},
		{"missing payload", TypeDocOpen, nil},
		{"open without path", TypeDocOpen, map[string]interface{}{"text": "x"}},
		{"change without changes", TypeDocChange, map[string]interface{}{"path": "/a.py"}},
		{"save without path", TypeDocSave, map[string]interface{}{}},
		{"views without path", TypeViewsUpdate, map[string]interface{}{"views": []string{"v"}}},
		{"exec without path", TypeExecCode, map[string]interface{}{}},
		{"exec negative line", TypeExecCode, map[string]interface{}{"path": "/a.py", "selection": map[string]interface{}{
			"start": map[string]int{"line": -1},
			"end":   map[string]int{"line": 0},
		}}},
		{"pick without request", TypeSessionPick, map[string]interface{}{"index": 0}},
		{"pick without index", TypeSessionPick, map[string]interface{}{"requestId": "r1"}},
		{"children without name", TypeDebugChildren, map[string]interface{}{}},
		{"payload of wrong shape", TypeDocSave, "not an object"},
	}
	for _, tt := range tests {
		if _, err := ValidateClientMessage(clientMessage(t, tt.msgType, tt.payload)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	if _, err := ValidateClientMessage([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrDocumentNotOpen, "document /a.py is not open")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrDocumentNotOpen {
		t.Errorf("expected code %s, got %s", ErrDocumentNotOpen, p.Code)
	}
}
