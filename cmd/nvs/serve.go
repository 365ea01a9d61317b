package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevoDB/tinynvs/pkg/grpc/service"
	"github.com/KevoDB/tinynvs/pkg/grpc/transport"
)

func newServeCmd(a *app) *cobra.Command {
	opts := transport.DefaultServerOptions()
	var tlsCfg transport.TLSConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over gRPC until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if tlsCfg.CertFile != "" || tlsCfg.KeyFile != "" {
				opts.TLS = &tlsCfg
			}
			opts.Logger = a.logger.WithField("component", "rpc")

			srv := transport.NewServer(service.NewStoreServer(s.store, opts.Logger), opts)
			if err := srv.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			opts.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", opts.Address, "address to listen on")
	cmd.Flags().StringVar(&tlsCfg.CertFile, "cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&tlsCfg.KeyFile, "key", "", "TLS private key file")
	cmd.Flags().StringVar(&tlsCfg.CAFile, "ca", "", "CA file for client certificate verification")
	return cmd
}
