package realtime

import (
	"janim-toolbox/internal/position"
	"janim-toolbox/internal/protocol"
)

// positionView is one editor view showing the session file.
type positionView struct {
	editor *editor
	path   string
	viewID string
}

func (v positionView) ID() string {
	return v.editor.id + "/" + v.viewID
}

func (v positionView) ShowLine(line int) {
	v.send(protocol.TypePositionShow, &line)
}

func (v positionView) ClearLine() {
	v.send(protocol.TypePositionClear, nil)
}

func (v positionView) Reveal(line int) {
	v.send(protocol.TypePositionReveal, &line)
}

func (v positionView) send(msgType string, line *int) {
	msg, err := protocol.NewMessage(msgType, protocol.PositionPayload{Path: v.path, ViewID: v.viewID, Line: line})
	if err != nil {
		return
	}
	v.editor.sendMessage(msg)
}

func toViews(views []positionView) []position.View {
	out := make([]position.View, len(views))
	for i, v := range views {
		out[i] = v
	}
	return out
}
