package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"janim-toolbox/internal/document"
	"janim-toolbox/internal/logx"
	"janim-toolbox/internal/position"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/transport"
	"janim-toolbox/internal/window"
	"janim-toolbox/internal/wire"

	"pkt.systems/pslog"
)

// ErrForeignDocument means a command targeted a document other than the one
// the bound janim instance is running.
var ErrForeignDocument = errors.New("document is not the janim session file")

// Config configures a Client.
type Config struct {
	Session    session.Config
	AutoLocate bool
	// History is the number of events kept for late subscribers.
	History int
}

// Status is a snapshot of the whole client state.
type Status struct {
	State    session.State     `json:"state"`
	Endpoint *session.Endpoint `json:"endpoint,omitempty"`
	Marks    []int             `json:"marks"`
	LastMark int               `json:"lastMark"`
	Position position.State    `json:"position"`
}

// Client owns one session, its execution window and its position indicator.
// Host surfaces (editor bridge, CLI) drive it through the methods below.
type Client struct {
	logger   pslog.Logger
	session  *session.Manager
	window   *window.Tracker
	position *position.Synchronizer
	events   *Hub
}

// New wires a client on top of sender. picker is consulted when several
// janim instances answer discovery; it may be nil.
func New(sender transport.Sender, picker session.Picker, cfg Config, logger pslog.Logger) *Client {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	c := &Client{
		logger: logger,
		events: NewHub(cfg.History),
	}
	c.session = session.NewManager(sender, picker, cfg.Session, logger.With("component", "session"))
	c.window = window.New(c.session, logger.With("component", "window"))
	c.position = position.New(c.session, cfg.AutoLocate, logger.With("component", "position"))
	c.session.OnClose(c.handleClose)
	return c
}

// Events returns the client's event hub.
func (c *Client) Events() *Hub {
	return c.events
}

// HandleDatagram routes one inbound message. It has the transport.Handler
// signature so it can be passed to UDP.Serve directly.
func (c *Client) HandleDatagram(msg *wire.Message, from netip.AddrPort) {
	if c.session.HandleMessage(msg, from) {
		return
	}
	if c.position.HandleMessage(msg) {
		c.publishPosition()
		return
	}
	c.logger.Debug("datagram ignored", "type", msg.Type, "from", from.String())
}

// Connect runs a fresh discovery round. A nil endpoint with a nil error means
// the user cancelled the selection. Binding a different instance starts
// with an empty window.
func (c *Client) Connect(ctx context.Context) (*session.Endpoint, error) {
	prev, hadPrev := c.session.Endpoint()
	ep, err := c.session.Discover(ctx)
	if err != nil {
		c.notifyConnectError(err)
		return nil, err
	}
	if ep == nil {
		c.notice(NoticeInfo, "janim selection cancelled")
		return nil, nil
	}
	if hadPrev && prev != *ep {
		c.window.Reset()
		c.position.Clear()
		c.publishWindow(nil, 0)
		c.publishPosition()
	}
	c.publishSession()
	c.notice(NoticeInfo, fmt.Sprintf("connected to janim on port %d (%s)", ep.Port, ep.FilePath))
	return ep, nil
}

// Reset forgets the session locally. The remote keeps its executed code.
func (c *Client) Reset() {
	c.session.Disconnect()
	c.window.Reset()
	c.position.Clear()
	c.publishSession()
	c.publishWindow(nil, 0)
	c.publishPosition()
}

// ExecuteCode dispatches the code at sel in the document at path, connecting
// first when needed. A nil Dispatch with a nil error means nothing was sent.
func (c *Client) ExecuteCode(ctx context.Context, path string, doc document.Document, sel document.Range) (*window.Dispatch, error) {
	ep, ok, err := c.ensureConnected(ctx)
	if err != nil || !ok {
		return nil, err
	}
	if !ep.Owns(path) {
		return nil, fmt.Errorf("%w: %s is not %s", ErrForeignDocument, path, ep.FilePath)
	}

	d, err := c.window.Execute(ctx, doc, sel)
	if err != nil {
		return nil, err
	}
	if d != nil {
		c.publishWindow(d, 0)
	}
	return d, nil
}

// UndoCode undoes the last dispatched unit. It reports false when there was
// nothing to undo.
func (c *Client) UndoCode(ctx context.Context) (bool, error) {
	undone, err := c.window.UndoLast(ctx)
	if err != nil {
		return false, err
	}
	if undone {
		c.publishWindow(nil, 1)
	}
	return undone, nil
}

// DocumentChanged applies one local edit to the window and the indicator.
// doc must already contain the change. It returns how many marks were
// invalidated.
func (c *Client) DocumentChanged(ctx context.Context, path string, doc document.Document, change document.Change) int {
	ep, ok := c.session.Endpoint()
	if !ok || !ep.Owns(path) {
		return 0
	}

	before := c.position.State().Status
	c.position.OnEdit(path)
	if before != position.StatusSuppressedByEdit {
		c.publishPosition()
	}

	popped := c.window.Invalidate(ctx, doc, change)
	if popped > 0 {
		c.publishWindow(nil, popped)
	}
	return popped
}

// DocumentSaved reports a save of the document at path.
func (c *Client) DocumentSaved(ctx context.Context, path string) error {
	ep, ok := c.session.Endpoint()
	if !ok || !ep.Owns(path) {
		return nil
	}
	err := c.position.OnSave(ctx, path)
	c.publishPosition()
	if err != nil {
		return fmt.Errorf("send file_saved: %w", err)
	}
	return nil
}

// VisibleViews replaces the set of views showing path.
func (c *Client) VisibleViews(path string, views []position.View) {
	c.position.SetViews(path, views)
}

// Reload asks the remote to reload. An empty path reloads the session file.
func (c *Client) Reload(ctx context.Context, path string) error {
	ep, ok, err := c.ensureConnected(ctx)
	if err != nil || !ok {
		return err
	}
	if path == "" {
		path = ep.FilePath
	}
	logx.WithPath(c.logger, path).Debug("reload requested")
	return c.session.Send(ctx, wire.Reload(path))
}

// DisplayChildrenIndex asks the remote to overlay the children index of the
// named object.
func (c *Client) DisplayChildrenIndex(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("object name is required")
	}
	_, ok, err := c.ensureConnected(ctx)
	if err != nil || !ok {
		return err
	}
	return c.session.Send(ctx, wire.DisplayChildrenIndex(name))
}

// ToggleAutoLocate flips auto-locate and returns the new value.
func (c *Client) ToggleAutoLocate() bool {
	on := c.position.ToggleAutoLocate()
	c.publishPosition()
	return on
}

// Status returns a snapshot of the client state.
func (c *Client) Status() Status {
	st := Status{
		State:    c.session.State(),
		Marks:    c.window.Marks(),
		LastMark: c.window.LastMark(),
		Position: c.position.State(),
	}
	if ep, ok := c.session.Endpoint(); ok {
		st.Endpoint = &ep
	}
	return st
}

func (c *Client) ensureConnected(ctx context.Context) (session.Endpoint, bool, error) {
	if ep, ok := c.session.Endpoint(); ok {
		return ep, true, nil
	}
	ok, err := c.session.EnsureConnected(ctx)
	if err != nil {
		c.notifyConnectError(err)
		return session.Endpoint{}, false, err
	}
	if !ok {
		c.notice(NoticeInfo, "janim selection cancelled")
		return session.Endpoint{}, false, nil
	}
	ep, ok := c.session.Endpoint()
	if !ok {
		// Closed by the remote right after binding.
		return session.Endpoint{}, false, session.ErrNotConnected
	}
	c.publishSession()
	return ep, true, nil
}

func (c *Client) handleClose() {
	c.window.Reset()
	c.position.Clear()
	c.publishSession()
	c.publishWindow(nil, 0)
	c.publishPosition()
	c.notice(NoticeWarning, "janim session closed")
}

func (c *Client) notifyConnectError(err error) {
	if errors.Is(err, session.ErrNoCandidates) {
		c.notice(NoticeWarning, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.notice(NoticeError, err.Error())
}

func (c *Client) publishSession() {
	change := &SessionChange{State: c.session.State()}
	if ep, ok := c.session.Endpoint(); ok {
		change.Endpoint = &ep
	}
	c.events.Publish(Event{Kind: EventSession, Session: change})
}

func (c *Client) publishWindow(d *window.Dispatch, popped int) {
	c.events.Publish(Event{Kind: EventWindow, Window: &WindowChange{
		Marks:    c.window.Marks(),
		LastMark: c.window.LastMark(),
		Dispatch: d,
		Popped:   popped,
	}})
}

func (c *Client) publishPosition() {
	st := c.position.State()
	c.events.Publish(Event{Kind: EventPosition, Position: &st})
}

func (c *Client) notice(level NoticeLevel, msg string) {
	switch level {
	case NoticeError:
		c.logger.Warn(msg)
	default:
		c.logger.Info(msg)
	}
	c.events.Publish(Event{Kind: EventNotice, Notice: &Notice{Level: level, Message: msg}})
}
