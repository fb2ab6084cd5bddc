package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"janim-toolbox/internal/client"
	"janim-toolbox/internal/document"
	"janim-toolbox/internal/protocol"
	"janim-toolbox/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
	queueSize     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Editors connect from localhost extension hosts.
	},
}

// Server bridges editor WebSocket connections to a client.Client. Editor
// commands run one at a time on a single worker goroutine; candidate picks
// are answered directly from the read pumps so a blocked discovery can be
// resolved.
type Server struct {
	client *client.Client
	logger pslog.Logger

	editors   map[*editor]bool
	editorsMu sync.RWMutex

	pending   map[string]chan int
	pendingMu sync.Mutex

	// docs and views are owned by the worker goroutine.
	docs  map[string]*document.Buffer
	views map[*editor]viewSet

	queue  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	subID  string
}

type viewSet struct {
	path string
	ids  []string
}

type editor struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu     sync.Mutex
	closed bool
}

// New creates a bridge server and starts its command worker. Attach must be
// called before the handler serves requests.
func New(logger pslog.Logger) *Server {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:  logger,
		editors: make(map[*editor]bool),
		pending: make(map[string]chan int),
		docs:    make(map[string]*document.Buffer),
		views:   make(map[*editor]viewSet),
		queue:   make(chan func(), queueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach binds the client the bridge drives and starts forwarding its events
// to editors.
func (s *Server) Attach(c *client.Client) {
	s.client = c
	id, ch, _ := c.Events().Subscribe()
	s.subID = id
	go s.forwardEvents(ch)
}

// Close stops the worker, cancels pending picks and releases the event
// subscription. Open WebSocket connections are left to the HTTP server.
func (s *Server) Close() {
	s.cancel()
	<-s.done
	if s.client != nil && s.subID != "" {
		s.client.Events().Unsubscribe(s.subID)
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("GET /window", s.handleGetWindow)
	mux.HandleFunc("GET /position", s.handleGetPosition)
	mux.HandleFunc("GET /events", s.handleGetEvents)
	mux.HandleFunc("POST /session/connect", s.handleConnect)
	mux.HandleFunc("POST /session/reset", s.handleReset)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// enqueue schedules fn on the worker. It reports false when the server is
// closed or the queue is full.
func (s *Server) enqueue(fn func()) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.queue <- fn:
		return true
	default:
		return false
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	e := &editor{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		server: s,
	}

	s.editorsMu.Lock()
	s.editors[e] = true
	s.editorsMu.Unlock()
	s.logger.Debug("editor connected", "editor", e.id, "remote", r.RemoteAddr)

	// Send current state to the new editor.
	s.sendStatus(e)

	go e.writePump()
	go e.readPump()
}

// readPump reads messages from the WebSocket connection.
func (e *editor) readPump() {
	defer func() {
		e.server.removeEditor(e)
		e.conn.Close()
	}()

	e.conn.SetReadDeadline(time.Now().Add(readDeadline))
	e.conn.SetPongHandler(func(string) error {
		e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.server.logger.Warn("websocket read failed", "editor", e.id, "err", err)
			}
			return
		}

		e.server.handleMessage(e, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (e *editor) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		e.conn.Close()
	}()

	for {
		select {
		case message, ok := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				e.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := e.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for the write pump. A full or closed editor drops it.
func (e *editor) enqueue(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.send <- data:
		return true
	default:
		return false
	}
}

func (e *editor) sendMessage(msg *protocol.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return e.enqueue(data)
}

func (e *editor) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.send)
	}
}

// removeEditor cleans up a disconnected editor.
func (s *Server) removeEditor(e *editor) {
	s.editorsMu.Lock()
	delete(s.editors, e)
	remaining := len(s.editors)
	s.editorsMu.Unlock()

	e.close()
	s.logger.Debug("editor disconnected", "editor", e.id)

	if remaining == 0 {
		s.cancelPicks()
	}
	s.enqueue(func() {
		if set, ok := s.views[e]; ok {
			delete(s.views, e)
			s.applyViews(set.path)
		}
	})
}

// handleMessage validates an editor message and schedules it.
func (s *Server) handleMessage(e *editor, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(e, protocol.ErrInvalidMessage, err.Error())
		return
	}

	if msg.Type == protocol.TypeSessionPick {
		s.handlePick(e, msg)
		return
	}
	if !s.enqueue(func() { s.dispatch(e, msg) }) {
		s.sendError(e, protocol.ErrCommandFailed, "bridge is busy or shutting down")
	}
}

func (s *Server) dispatch(e *editor, msg *protocol.Message) {
	ctx := s.ctx
	switch msg.Type {
	case protocol.TypeDocOpen:
		var p protocol.DocOpenPayload
		json.Unmarshal(msg.Payload, &p)
		s.docs[p.Path] = document.NewBuffer(p.Text)

	case protocol.TypeDocChange:
		s.handleDocChange(ctx, e, msg)

	case protocol.TypeDocSave:
		var p protocol.DocPathPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.client.DocumentSaved(ctx, p.Path); err != nil {
			s.sendClientError(e, err)
		}

	case protocol.TypeDocClose:
		var p protocol.DocPathPayload
		json.Unmarshal(msg.Payload, &p)
		delete(s.docs, p.Path)

	case protocol.TypeViewsUpdate:
		var p protocol.ViewsUpdatePayload
		json.Unmarshal(msg.Payload, &p)
		prev, had := s.views[e]
		s.views[e] = viewSet{path: p.Path, ids: p.Views}
		if had && prev.path != p.Path {
			s.applyViews(prev.path)
		}
		s.applyViews(p.Path)

	case protocol.TypeExecCode:
		s.handleExec(ctx, e, msg)

	case protocol.TypeExecUndo:
		if _, err := s.client.UndoCode(ctx); err != nil {
			s.sendClientError(e, err)
		}

	case protocol.TypeSessionConnect:
		if _, err := s.client.Connect(ctx); err != nil {
			s.sendClientError(e, err)
		}

	case protocol.TypeSessionReset:
		s.client.Reset()

	case protocol.TypeSessionReload:
		var p protocol.ReloadPayload
		if len(msg.Payload) > 0 {
			json.Unmarshal(msg.Payload, &p)
		}
		if err := s.client.Reload(ctx, p.Path); err != nil {
			s.sendClientError(e, err)
		}

	case protocol.TypeDebugChildren:
		var p protocol.DebugChildrenPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.client.DisplayChildrenIndex(ctx, p.Name); err != nil {
			s.sendClientError(e, err)
		}

	case protocol.TypeLocateToggle:
		s.client.ToggleAutoLocate()
	}
}

func (s *Server) handleDocChange(ctx context.Context, e *editor, msg *protocol.Message) {
	var p protocol.DocChangePayload
	json.Unmarshal(msg.Payload, &p)

	buf, ok := s.docs[p.Path]
	if !ok {
		s.sendError(e, protocol.ErrDocumentNotOpen, "document is not open: "+p.Path)
		return
	}
	for _, change := range orderChanges(p.Changes) {
		if err := buf.Apply(change); err != nil {
			s.sendError(e, protocol.ErrInvalidChange, err.Error())
			return
		}
		s.client.DocumentChanged(ctx, p.Path, buf, change)
	}
}

// orderChanges sorts changes bottom-up so applying them one at a time keeps
// the ranges of the remaining ones valid.
func orderChanges(changes []document.Change) []document.Change {
	out := append([]document.Change(nil), changes...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].Range.Normalized().Start.Before(out[i].Range.Normalized().Start)
	})
	return out
}

func (s *Server) handleExec(ctx context.Context, e *editor, msg *protocol.Message) {
	var p protocol.ExecCodePayload
	json.Unmarshal(msg.Payload, &p)

	buf, ok := s.docs[p.Path]
	switch {
	case p.Text != nil && ok:
		buf.Replace(*p.Text)
	case p.Text != nil:
		buf = document.NewBuffer(*p.Text)
		s.docs[p.Path] = buf
	case !ok:
		s.sendError(e, protocol.ErrDocumentNotOpen, "document is not open: "+p.Path)
		return
	}

	// The first exec may bind the session, so views sent earlier are
	// reapplied afterwards.
	wasBound := s.client.Status().Endpoint != nil
	if _, err := s.client.ExecuteCode(ctx, p.Path, buf, p.Selection); err != nil {
		s.sendClientError(e, err)
		return
	}
	if !wasBound {
		s.applyViews(p.Path)
	}
}

// applyViews hands the union of every editor's views of path to the client.
func (s *Server) applyViews(path string) {
	var views []positionView
	editors := make([]*editor, 0, len(s.views))
	for e := range s.views {
		editors = append(editors, e)
	}
	sort.Slice(editors, func(i, j int) bool { return editors[i].id < editors[j].id })
	for _, e := range editors {
		set := s.views[e]
		if set.path != path {
			continue
		}
		for _, id := range set.ids {
			views = append(views, positionView{editor: e, path: path, viewID: id})
		}
	}
	s.client.VisibleViews(path, toViews(views))
}

func (s *Server) sendStatus(e *editor) {
	if s.client == nil {
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(s.client.Status()))
	if err != nil {
		return
	}
	e.sendMessage(msg)
}

// broadcast sends a message to all connected editors and returns how many
// accepted it.
func (s *Server) broadcast(msg *protocol.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	s.editorsMu.RLock()
	defer s.editorsMu.RUnlock()

	n := 0
	for e := range s.editors {
		if e.enqueue(data) {
			n++
		}
	}
	return n
}

func (s *Server) forwardEvents(ch <-chan client.Event) {
	for ev := range ch {
		var msg *protocol.Message
		var err error
		switch ev.Kind {
		case client.EventSession, client.EventPosition:
			msg, err = protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(s.client.Status()))
		case client.EventWindow:
			msg, err = protocol.NewMessage(protocol.TypeWindowUpdate, windowPayload(ev.Window))
		case client.EventNotice:
			msg, err = protocol.NewMessage(protocol.TypeNotice, protocol.NoticePayload{
				Level:   string(ev.Notice.Level),
				Message: ev.Notice.Message,
			})
		}
		if err != nil || msg == nil {
			continue
		}
		s.broadcast(msg)
	}
}

func (s *Server) sendError(e *editor, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	e.sendMessage(msg)
}

func (s *Server) sendClientError(e *editor, err error) {
	code := protocol.ErrCommandFailed
	switch {
	case errors.Is(err, session.ErrNoCandidates):
		code = protocol.ErrNoCandidates
	case errors.Is(err, session.ErrNotConnected):
		code = protocol.ErrNotConnected
	case errors.Is(err, client.ErrForeignDocument):
		code = protocol.ErrForeignDocument
	case errors.Is(err, context.Canceled):
		return
	}
	s.sendError(e, code, err.Error())
}

func sessionPayload(st client.Status) protocol.SessionUpdatePayload {
	p := protocol.SessionUpdatePayload{
		State:      string(st.State),
		LastMark:   st.LastMark,
		AutoLocate: st.Position.AutoLocate,
	}
	if st.Endpoint != nil {
		p.Address = st.Endpoint.Address.String()
		p.Port = st.Endpoint.Port
		p.FilePath = st.Endpoint.FilePath
	}
	return p
}

func windowPayload(w *client.WindowChange) protocol.WindowUpdatePayload {
	p := protocol.WindowUpdatePayload{Marks: w.Marks, LastMark: w.LastMark}
	if p.Marks == nil {
		p.Marks = []int{}
	}
	if d := w.Dispatch; d != nil {
		p.Dispatch = &protocol.DispatchPayload{
			Mode:   string(d.Mode),
			First:  d.First,
			Last:   d.Last,
			Undone: d.Undone,
		}
	}
	return p
}
