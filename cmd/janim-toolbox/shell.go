package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"janim-toolbox/internal/document"
	"janim-toolbox/internal/position"
	"janim-toolbox/internal/session"
)

const shellHelp = `commands:
  exec N | exec A-B   execute the block ending at line N, or lines A..B
  undo                undo the last executed unit
  save                tell janim the file was saved
  reload              reload the scene file
  children NAME       overlay the children index of NAME
  locate              toggle auto-locate
  status              print the session state
  connect             run discovery again
  reset               forget the session locally
  quit
`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive one janim session interactively",
		Long: "Drive one janim session interactively. The scene file is re-read before\n" +
			"each command; on-disk changes invalidate the executed lines they touch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := &syncWriter{w: cmd.OutOrStdout()}
			picker := newTerminalPicker(cmd.InOrStdin(), out)
			rt, err := startClient(cmd.Context(), cfg, picker)
			if err != nil {
				return err
			}
			defer rt.Close()

			id, ch, _ := rt.client.Events().Subscribe()
			defer rt.client.Events().Unsubscribe(id)
			go printNotices(out, ch)

			sh := &shell{rt: rt, out: out, view: newTerminalView(out)}
			if err := sh.connect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprint(out, "> ")
			for {
				line, err := picker.in.ReadString('\n')
				if strings.TrimSpace(line) != "" {
					quit, cmdErr := sh.run(cmd.Context(), line)
					if cmdErr != nil {
						fmt.Fprintf(out, "error: %v\n", cmdErr)
					}
					if quit {
						return nil
					}
				}
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				if cmd.Context().Err() != nil {
					return nil
				}
				fmt.Fprint(out, "> ")
			}
		},
	}
}

// shell keeps the last loaded copy of the session file so on-disk edits can
// be replayed to the client as document changes.
type shell struct {
	rt   *clientRuntime
	out  io.Writer
	view *terminalView
	path string
	doc  *document.Buffer
}

func (s *shell) run(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	c := s.rt.client
	switch fields[0] {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
		return false, nil
	case "exec", "e":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: exec N | exec A-B")
		}
		first, last, isRange, err := parseLines(fields[1])
		if err != nil {
			return false, err
		}
		if err := s.refresh(ctx); err != nil {
			return false, err
		}
		d, err := c.ExecuteCode(ctx, s.path, s.doc, selection(s.doc, first, last, isRange))
		if err != nil {
			return false, err
		}
		if d == nil {
			fmt.Fprintln(s.out, "already executed")
			return false, nil
		}
		fmt.Fprintf(s.out, "%s lines %d-%d (undone %d)\n", d.Mode, d.First+1, d.Last+1, d.Undone)
		return false, nil
	case "undo", "u":
		undone, err := c.UndoCode(ctx)
		if err != nil {
			return false, err
		}
		if !undone {
			fmt.Fprintln(s.out, "nothing to undo")
		}
		return false, nil
	case "save":
		if err := s.refresh(ctx); err != nil {
			return false, err
		}
		return false, c.DocumentSaved(ctx, s.path)
	case "reload":
		return false, c.Reload(ctx, s.path)
	case "children":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: children NAME")
		}
		return false, c.DisplayChildrenIndex(ctx, fields[1])
	case "locate":
		fmt.Fprintf(s.out, "auto-locate %s\n", onOff(c.ToggleAutoLocate()))
		return false, nil
	case "status":
		s.printStatus()
		return false, nil
	case "connect":
		return false, s.connect(ctx)
	case "reset":
		c.Reset()
		s.path = ""
		s.doc = nil
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q, try help", fields[0])
}

func (s *shell) connect(ctx context.Context) error {
	ep, err := s.rt.connect(ctx)
	if err != nil {
		return err
	}
	return s.bind(*ep)
}

func (s *shell) bind(ep session.Endpoint) error {
	doc, err := readDocument(ep.FilePath)
	if err != nil {
		return err
	}
	s.path = filepath.Clean(ep.FilePath)
	s.doc = doc
	s.rt.client.VisibleViews(s.path, []position.View{s.view})
	fmt.Fprintf(s.out, "bound to %s\n", endpointLabel(ep))
	return nil
}

// refresh re-reads the session file. A difference is reported as one change
// spanning from the first differing line to the end, followed by a save.
func (s *shell) refresh(ctx context.Context) error {
	st := s.rt.client.Status()
	if st.Endpoint == nil {
		return s.connect(ctx)
	}
	if s.doc == nil || !st.Endpoint.Owns(s.path) {
		return s.bind(*st.Endpoint)
	}
	next, err := readDocument(s.path)
	if err != nil {
		return err
	}
	change, changed := diffChange(s.doc, next)
	if !changed {
		return nil
	}
	s.doc = next
	if popped := s.rt.client.DocumentChanged(ctx, s.path, next, change); popped > 0 {
		fmt.Fprintf(s.out, "file changed at line %d, undid %d unit(s)\n", change.Range.Start.Line+1, popped)
	}
	return s.rt.client.DocumentSaved(ctx, s.path)
}

func (s *shell) printStatus() {
	st := s.rt.client.Status()
	if st.Endpoint == nil {
		fmt.Fprintf(s.out, "state %s\n", st.State)
		return
	}
	marks := make([]string, len(st.Marks))
	for i, m := range st.Marks {
		marks[i] = fmt.Sprint(m + 1)
	}
	fmt.Fprintf(s.out, "state %s, %s\n", st.State, endpointLabel(*st.Endpoint))
	fmt.Fprintf(s.out, "executed through [%s], position %s", strings.Join(marks, " "), st.Position.Status)
	if st.Position.CurrentLine != position.None {
		fmt.Fprintf(s.out, " at line %d", st.Position.CurrentLine+1)
	}
	fmt.Fprintf(s.out, ", auto-locate %s\n", onOff(st.Position.AutoLocate))
}

// diffChange describes next as a replacement of prev from the first line
// that differs to the end of the document.
func diffChange(prev, next document.Document) (document.Change, bool) {
	n := min(prev.LineCount(), next.LineCount())
	k := 0
	for k < n && prev.Line(k) == next.Line(k) {
		k++
	}
	if k == n && prev.LineCount() == next.LineCount() {
		return document.Change{}, false
	}
	var text string
	if k < next.LineCount() {
		text = next.Text(k, next.LineCount()-1)
	}
	return document.Change{
		Range: document.Range{
			Start: document.Position{Line: k},
			End:   document.Position{Line: prev.LineCount()},
		},
		Text: text,
	}, true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
