package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"janim-toolbox/internal/document"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/transport"
	"janim-toolbox/internal/window"
	"janim-toolbox/internal/wire"

	"pkt.systems/pslog"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find a janim instance and bind to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := startClient(cmd.Context(), cfg, cliPicker(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			ep, err := rt.connect(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), endpointLabel(*ep))
			return err
		},
	}
}

func newExecCmd() *cobra.Command {
	var lines string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Execute lines of the scene file in janim",
		Long: "Execute lines of the scene file in janim. A single line runs the block\n" +
			"ending at that line; a range A-B runs exactly those lines. Lines are 1-based.\n" +
			"Without a file argument the file janim is running is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, isRange, err := parseLines(lines)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				if path, err = filepath.Abs(args[0]); err != nil {
					return err
				}
			}

			if dryRun {
				if path == "" {
					return fmt.Errorf("--dry-run needs a file argument")
				}
				return dryRunExec(cmd, path, first, last, isRange)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := startClient(cmd.Context(), cfg, cliPicker(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			ep, err := rt.connect(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = ep.FilePath
			}
			doc, err := readDocument(path)
			if err != nil {
				return err
			}
			d, err := rt.client.ExecuteCode(cmd.Context(), path, doc, selection(doc, first, last, isRange))
			if err != nil {
				return err
			}
			return printDispatch(cmd, d)
		},
	}
	cmd.Flags().StringVarP(&lines, "lines", "l", "", "line N or range A-B to execute (1-based)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the commands instead of sending them")
	_ = cmd.MarkFlagRequired("lines")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload [file]",
		Short: "Ask janim to reload the scene file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				var err error
				if path, err = filepath.Abs(args[0]); err != nil {
					return err
				}
			}
			return withConnection(cmd, func(ctx context.Context, rt *clientRuntime) error {
				return rt.client.Reload(ctx, path)
			})
		},
	}
}

func newChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <name>",
		Short: "Overlay the children index of a scene object in janim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("object name is required")
			}
			return withConnection(cmd, func(ctx context.Context, rt *clientRuntime) error {
				return rt.client.DisplayChildrenIndex(ctx, name)
			})
		},
	}
}

func withConnection(cmd *cobra.Command, fn func(ctx context.Context, rt *clientRuntime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := startClient(cmd.Context(), cfg, cliPicker(cmd))
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.connect(cmd.Context()); err != nil {
		return err
	}
	return fn(cmd.Context(), rt)
}

// dryRunExec runs the window logic against a recorder and prints what would
// have been sent to janim.
func dryRunExec(cmd *cobra.Command, path string, first, last int, isRange bool) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	mem := transport.NewMemory()
	tracker := window.New(memorySender{mem: mem}, pslog.Ctx(cmd.Context()))
	d, err := tracker.Execute(cmd.Context(), doc, selection(doc, first, last, isRange))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range mem.Sent() {
		fmt.Fprintf(out, "> %s\n", s.Message.Type)
	}
	return printDispatch(cmd, d)
}

// memorySender adapts a recorder to the endpoint-bound Sender the window
// tracker expects.
type memorySender struct {
	mem *transport.Memory
	dst netip.AddrPort
}

func (s memorySender) Send(ctx context.Context, msg *wire.Message) error {
	return s.mem.Send(ctx, s.dst, msg)
}

func printDispatch(cmd *cobra.Command, d *window.Dispatch) error {
	out := cmd.OutOrStdout()
	if d == nil {
		_, err := fmt.Fprintln(out, "nothing to execute")
		return err
	}
	if _, err := fmt.Fprintf(out, "%s lines %d-%d (undone %d)\n", d.Mode, d.First+1, d.Last+1, d.Undone); err != nil {
		return err
	}
	_, err := fmt.Fprint(out, d.Text)
	return err
}

// parseLines parses "N" or "A-B" (1-based) into 0-based lines.
func parseLines(value string) (first, last int, isRange bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, false, fmt.Errorf("lines are required")
	}
	from, to, found := strings.Cut(value, "-")
	first, err = parseLine(from)
	if err != nil {
		return 0, 0, false, err
	}
	if !found {
		return first, first, false, nil
	}
	last, err = parseLine(to)
	if err != nil {
		return 0, 0, false, err
	}
	if last < first {
		return 0, 0, false, fmt.Errorf("invalid range %q: end before start", value)
	}
	return first, last, true, nil
}

func parseLine(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid line %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid line %d: lines start at 1", n)
	}
	return n - 1, nil
}

// selection builds the editor selection for a cursor at first or a range
// covering first..last in full.
func selection(doc document.Document, first, last int, isRange bool) document.Range {
	if !isRange {
		p := document.Position{Line: first}
		return document.Range{Start: p, End: p}
	}
	end := document.Position{Line: last, Character: document.UTF16Len(doc.Line(last))}
	if end.Character <= doc.Indent(last) {
		// A blank last line would be trimmed from the range; end on the
		// next line instead so it stays included.
		end = document.Position{Line: last + 1}
	}
	return document.Range{Start: document.Position{Line: first}, End: end}
}

func readDocument(path string) (*document.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return document.NewBuffer(string(data)), nil
}

func endpointLabel(ep session.Endpoint) string {
	return fmt.Sprintf("%s %s", ep.AddrPort(), ep.FilePath)
}
