package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"janim-toolbox/internal/client"
	"janim-toolbox/internal/position"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/watcher"

	"pkt.systems/pslog"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report saves of the scene file to janim and follow its execution line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := pslog.Ctx(ctx)
			out := &syncWriter{w: cmd.OutOrStdout()}

			rt, err := startClient(ctx, cfg, cliPicker(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			id, ch, _ := rt.client.Events().Subscribe()
			defer rt.client.Events().Unsubscribe(id)

			ep, err := rt.connect(ctx)
			if err != nil {
				return err
			}
			rt.client.VisibleViews(ep.FilePath, []position.View{newTerminalView(out)})

			w := watcher.New(cfg.Debounce(), func(path string) {
				if err := rt.client.DocumentSaved(ctx, path); err != nil {
					logger.Warn("save not reported", "path", path, "err", err)
					return
				}
				fmt.Fprintf(out, "saved %s\n", path)
			}, logger.With("component", "watcher"))
			defer w.Shutdown()
			if err := w.Watch(ep.FilePath); err != nil {
				return err
			}
			fmt.Fprintf(out, "watching %s\n", endpointLabel(*ep))

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					if ev.Kind == client.EventNotice && ev.Notice != nil {
						fmt.Fprintf(out, "[%s] %s\n", ev.Notice.Level, ev.Notice.Message)
					}
					if ev.Kind == client.EventSession && ev.Session != nil && ev.Session.State == session.StateDisconnected {
						return nil
					}
				}
			}
		},
	}
}
