package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/metrics"
	"agentcraft.ai/internal/transport/ws"
)

func hubCmd() *cobra.Command {
	var (
		addr    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Relay coordination envelopes between websocket-attached agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("hub")
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			hub := ws.NewServer(logger)
			if verbose {
				hub.Tap(func(e bus.Envelope) {
					to := e.To
					if to == "" {
						to = "*"
					}
					logger.Printf("%s -> %s: %s", e.From, to, e.Text)
				})
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/bus", hub.Handler())
			mux.Handle("/metrics", metrics.Handler(nil))
			mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(http.StatusOK)
				_, _ = rw.Write([]byte("ok"))
			})
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				<-ctx.Done()
				ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel2()
				_ = srv.Shutdown(ctx2)
			}()

			logger.Printf("listening on %s (ws path /bus)", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", getenv("AGENTCRAFT_HUB_ADDR", ":8081"), "listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every relayed envelope")
	return cmd
}
