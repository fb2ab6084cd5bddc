package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"janim-toolbox/internal/realtime"

	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Bridge.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := pslog.Ctx(ctx)

			srv := realtime.New(logger.With("component", "bridge"))
			defer srv.Close()

			rt, err := startClient(ctx, cfg, srv)
			if err != nil {
				return err
			}
			defer rt.Close()
			srv.Attach(rt.client)

			httpServer := &http.Server{
				Addr:              cfg.Bridge.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				logger.Info("shutting down")
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(stopCtx); err != nil {
					logger.Warn("http server shutdown failed", "err", err)
				}
			}()

			logger.Info("http server listening", "addr", cfg.Bridge.Addr, "udp", rt.udp.LocalAddr().String())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override bridge.addr")
	return cmd
}
