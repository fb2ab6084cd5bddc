package session

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"janim-toolbox/internal/logx"
	"janim-toolbox/internal/transport"
	"janim-toolbox/internal/wire"

	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"
)

// DefaultWindow is how long discovery collects find_re replies.
const DefaultWindow = 100 * time.Millisecond

const discoverKey = "discover"

// Picker asks the user to choose among several candidates. It returns false
// when the user dismissed the prompt.
type Picker interface {
	Pick(ctx context.Context, candidates []Candidate) (Candidate, bool, error)
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(ctx context.Context, candidates []Candidate) (Candidate, bool, error)

// Pick calls f.
func (f PickerFunc) Pick(ctx context.Context, candidates []Candidate) (Candidate, bool, error) {
	return f(ctx, candidates)
}

// Config controls discovery.
type Config struct {
	// Destination receives the find probe: a broadcast address with the
	// well-known port, or localhost with a configured port.
	Destination netip.AddrPort
	// Window is the reply collection window. Zero means DefaultWindow.
	Window time.Duration
	// ListenCloseEvent sends listen_close_event after register_client.
	ListenCloseEvent bool
}

// Manager owns discovery and the single active endpoint.
type Manager struct {
	mu         sync.RWMutex
	sender     transport.Sender
	picker     Picker
	cfg        Config
	logger     pslog.Logger
	endpoint   *Endpoint
	collecting bool
	candidates []Candidate
	onClose    []func()
	round      *round

	flight singleflight.Group
}

// round is the context shared by the callers of one discovery round.
type round struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewManager creates a session manager. picker may be nil, in which case a
// round with several candidates fails.
func NewManager(sender transport.Sender, picker Picker, cfg Config, logger pslog.Logger) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		sender: sender,
		picker: picker,
		cfg:    cfg,
		logger: logger,
	}
}

// OnClose registers fn to run after a remote close_event cleared the endpoint.
func (m *Manager) OnClose(fn func()) {
	m.mu.Lock()
	m.onClose = append(m.onClose, fn)
	m.mu.Unlock()
}

// Endpoint returns the active endpoint, if any.
func (m *Manager) Endpoint() (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.endpoint == nil {
		return Endpoint{}, false
	}
	return *m.endpoint, true
}

// State reports the manager's lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.endpoint != nil:
		return StateConnected
	case m.collecting:
		return StateDiscovering
	default:
		return StateDisconnected
	}
}

// Discover runs one discovery round and binds the chosen endpoint. A nil
// endpoint with a nil error means the user cancelled the selection.
// Concurrent callers share the in-flight round. The round outlives any single
// caller and is cancelled only when every waiting caller has gone.
func (m *Manager) Discover(ctx context.Context) (*Endpoint, error) {
	m.mu.Lock()
	if m.round == nil {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.round = &round{ctx: rctx, cancel: cancel}
	}
	r := m.round
	r.waiters++
	m.mu.Unlock()

	ch := m.flight.DoChan(discoverKey, func() (interface{}, error) {
		defer func() {
			m.mu.Lock()
			if m.round == r {
				m.round = nil
			}
			m.mu.Unlock()
			r.cancel()
		}()
		return m.discover(r.ctx)
	})
	select {
	case res := <-ch:
		m.leaveRound(r, false)
		ep, _ := res.Val.(*Endpoint)
		return ep, res.Err
	case <-ctx.Done():
		m.leaveRound(r, true)
		return nil, ctx.Err()
	}
}

// leaveRound drops one waiter and cancels the round when the last waiter
// gave up.
func (m *Manager) leaveRound(r *round, gaveUp bool) {
	m.mu.Lock()
	r.waiters--
	last := r.waiters == 0
	m.mu.Unlock()
	if gaveUp && last {
		r.cancel()
	}
}

// EnsureConnected is a no-op when an endpoint is bound and otherwise runs
// Discover. It reports whether an endpoint is bound afterwards.
func (m *Manager) EnsureConnected(ctx context.Context) (bool, error) {
	if _, ok := m.Endpoint(); ok {
		return true, nil
	}
	ep, err := m.Discover(ctx)
	if err != nil {
		return false, err
	}
	return ep != nil, nil
}

// Disconnect forgets the active endpoint without notifying the remote.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ep := m.endpoint
	m.endpoint = nil
	m.mu.Unlock()

	if ep != nil {
		logx.WithEndpoint(m.logger, ep.AddrPort(), ep.FilePath).Info("session disconnected")
	}
}

// Send delivers msg to the active endpoint.
func (m *Manager) Send(ctx context.Context, msg *wire.Message) error {
	ep, ok := m.Endpoint()
	if !ok {
		return ErrNotConnected
	}
	return m.sender.Send(ctx, ep.AddrPort(), msg)
}

// HandleMessage consumes discovery replies and close notifications. It
// reports whether the message belonged to the session manager.
func (m *Manager) HandleMessage(msg *wire.Message, from netip.AddrPort) bool {
	switch msg.Type {
	case wire.TypeFindReply:
		m.addCandidate(msg, from)
		return true

	case wire.TypeCloseEvent:
		m.handleClose(from)
		return true
	}
	return false
}

func (m *Manager) discover(ctx context.Context) (*Endpoint, error) {
	m.mu.Lock()
	m.candidates = nil
	m.collecting = true
	m.mu.Unlock()

	log := m.logger.With("destination", m.cfg.Destination.String())
	log.Debug("discovery start", "window", m.cfg.Window.String())

	if err := m.sender.Send(ctx, m.cfg.Destination, wire.Find()); err != nil {
		m.stopCollecting()
		return nil, fmt.Errorf("send find: %w", err)
	}

	timer := time.NewTimer(m.cfg.Window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		m.stopCollecting()
		return nil, ctx.Err()
	}

	candidates := m.stopCollecting()
	log.Debug("discovery window closed", "candidates", len(candidates))

	var chosen Candidate
	switch len(candidates) {
	case 0:
		return nil, ErrNoCandidates
	case 1:
		chosen = candidates[0]
	default:
		if m.picker == nil {
			return nil, fmt.Errorf("%d janim instances found and no picker configured", len(candidates))
		}
		picked, ok, err := m.picker.Pick(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("pick candidate: %w", err)
		}
		if !ok {
			log.Info("discovery selection cancelled", "candidates", len(candidates))
			return nil, nil
		}
		chosen = picked
	}

	return m.bind(ctx, chosen)
}

func (m *Manager) stopCollecting() []Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates := m.candidates
	m.candidates = nil
	m.collecting = false
	return candidates
}

func (m *Manager) bind(ctx context.Context, c Candidate) (*Endpoint, error) {
	ep := c.Endpoint()
	log := logx.WithEndpoint(m.logger, ep.AddrPort(), ep.FilePath)

	if err := m.sender.Send(ctx, ep.AddrPort(), wire.RegisterClient()); err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	if m.cfg.ListenCloseEvent {
		if err := m.sender.Send(ctx, ep.AddrPort(), wire.ListenCloseEvent()); err != nil {
			log.Warn("listen_close_event send failed", "err", err)
		}
	}

	m.mu.Lock()
	m.endpoint = &ep
	m.mu.Unlock()

	log.Info("session bound")
	return &ep, nil
}

func (m *Manager) addCandidate(msg *wire.Message, from netip.AddrPort) {
	reply, err := msg.FindReply()
	if err != nil {
		m.logger.Debug("find_re dropped", "from", from.String(), "err", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.collecting {
		m.logger.Debug("find_re outside discovery window", "from", from.String(), "port", reply.Port)
		return
	}
	c := Candidate{Address: from.Addr(), Port: reply.Port, FilePath: reply.FilePath}
	for _, existing := range m.candidates {
		if existing.Address == c.Address && existing.Port == c.Port {
			return
		}
	}
	m.candidates = append(m.candidates, c)
}

// handleClose clears the endpoint when the bound instance closes. Instances
// bound earlier still have us registered; their close events are ignored.
func (m *Manager) handleClose(from netip.AddrPort) {
	m.mu.Lock()
	ep := m.endpoint
	if ep == nil {
		m.mu.Unlock()
		m.logger.Debug("close_event while disconnected", "from", from.String())
		return
	}
	if ep.AddrPort() != from {
		m.mu.Unlock()
		m.logger.Debug("close_event from another instance ignored", "from", from.String(), "endpoint", ep.AddrPort().String())
		return
	}
	m.endpoint = nil
	listeners := append([]func(){}, m.onClose...)
	m.mu.Unlock()

	logx.WithEndpoint(m.logger, ep.AddrPort(), ep.FilePath).Info("session closed by remote")
	for _, fn := range listeners {
		fn()
	}
}
