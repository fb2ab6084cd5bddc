package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"janim-toolbox/internal/appconfig"
	"janim-toolbox/internal/client"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/transport"

	"pkt.systems/pslog"
)

func loadConfig(cmd *cobra.Command) (appconfig.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return appconfig.Config{}, err
	}
	return appconfig.Load(path)
}

func sessionConfig(cfg appconfig.Config) (session.Config, error) {
	dst, err := cfg.Destination()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Destination:      dst,
		Window:           cfg.DiscoveryWindow(),
		ListenCloseEvent: cfg.Discovery.ListenCloseEvent,
	}, nil
}

func clientConfig(cfg appconfig.Config) (client.Config, error) {
	sc, err := sessionConfig(cfg)
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		Session:    sc,
		AutoLocate: cfg.Position.AutoLocate,
		History:    cfg.Bridge.History,
	}, nil
}

// clientRuntime is a client bound to a live UDP socket with its receive
// loop running.
type clientRuntime struct {
	client *client.Client
	udp    *transport.UDP
	cancel context.CancelFunc
	done   chan struct{}
}

func startClient(ctx context.Context, cfg appconfig.Config, picker session.Picker) (*clientRuntime, error) {
	logger := pslog.Ctx(ctx)
	cc, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	udp, err := transport.Listen(ctx, cfg.ListenAddr, logger.With("component", "udp"))
	if err != nil {
		return nil, err
	}
	c := client.New(udp, picker, cc, logger)

	serveCtx, cancel := context.WithCancel(ctx)
	rt := &clientRuntime{client: c, udp: udp, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(rt.done)
		if err := udp.Serve(serveCtx, c.HandleDatagram); err != nil {
			logger.Warn("udp receive loop stopped", "err", err)
		}
	}()
	logger.Debug("client started", "listen", udp.LocalAddr().String(), "destination", cc.Session.Destination.String())
	return rt, nil
}

func (r *clientRuntime) Close() {
	r.cancel()
	_ = r.udp.Close()
	<-r.done
}

// connect runs discovery and fails when the user dismissed the picker.
func (r *clientRuntime) connect(ctx context.Context) (*session.Endpoint, error) {
	ep, err := r.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("janim selection cancelled")
	}
	return ep, nil
}

// cliPicker prompts on the terminal when stdin is one. Otherwise there is no
// picker and a round with several candidates fails.
func cliPicker(cmd *cobra.Command) session.Picker {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newTerminalPicker(f, cmd.ErrOrStderr())
}

// terminalPicker prompts on out and reads the choice from in. An empty
// answer or "q" dismisses the prompt.
type terminalPicker struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPicker(in io.Reader, out io.Writer) *terminalPicker {
	return &terminalPicker{in: bufio.NewReader(in), out: out}
}

func (p *terminalPicker) Pick(ctx context.Context, candidates []session.Candidate) (session.Candidate, bool, error) {
	fmt.Fprintln(p.out, "Several janim instances answered:")
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d) %s:%d %s\n", i+1, c.Address, c.Port, c.FilePath)
	}
	fmt.Fprintf(p.out, "Select [1-%d, q to cancel]: ", len(candidates))

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	var a answer
	select {
	case <-ctx.Done():
		return session.Candidate{}, false, ctx.Err()
	case a = <-ch:
	}
	switch {
	case a.err == nil:
	case errors.Is(a.err, io.EOF):
		if a.line == "" {
			return session.Candidate{}, false, nil
		}
	default:
		return session.Candidate{}, false, fmt.Errorf("read selection: %w", a.err)
	}
	idx, ok := parseSelection(a.line, len(candidates))
	if !ok {
		return session.Candidate{}, false, nil
	}
	return candidates[idx], true, nil
}

// parseSelection maps a 1-based answer to a candidate index.
func parseSelection(line string, n int) (int, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.EqualFold(line, "q") {
		return 0, false
	}
	v, err := strconv.Atoi(line)
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}
