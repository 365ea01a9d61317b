package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KevoDB/tinynvs/pkg/client"
	"github.com/KevoDB/tinynvs/pkg/grpc/transport"
)

func newRemoteCmd() *cobra.Command {
	opts := client.DefaultClientOptions()
	var tlsCfg transport.TLSConfig
	var useTLS bool

	connect := func() (*client.Client, error) {
		if useTLS {
			opts.TLS = &tlsCfg
		}
		return client.NewClient(opts)
	}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a store served by nvs serve",
	}
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "address", opts.Endpoint, "server address")
	cmd.PersistentFlags().DurationVar(&opts.RequestTimeout, "timeout", opts.RequestTimeout, "per-request timeout")
	cmd.PersistentFlags().BoolVar(&useTLS, "tls", false, "connect with TLS")
	cmd.PersistentFlags().StringVar(&tlsCfg.CAFile, "ca", "", "CA file used to verify the server")
	cmd.PersistentFlags().StringVar(&tlsCfg.CertFile, "cert", "", "client certificate file")
	cmd.PersistentFlags().StringVar(&tlsCfg.KeyFile, "key", "", "client private key file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Store a value on the server",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := connect()
				if err != nil {
					return err
				}
				defer c.Close()
				return c.Set(cmd.Context(), []byte(args[0]), []byte(args[1]))
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print a value from the server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := connect()
				if err != nil {
					return err
				}
				defer c.Close()
				value, err := c.Get(cmd.Context(), []byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete KEY",
			Short: "Delete a key on the server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := connect()
				if err != nil {
					return err
				}
				defer c.Close()
				return c.Delete(cmd.Context(), []byte(args[0]))
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show the server's sector table and operation counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := connect()
				if err != nil {
					return err
				}
				defer c.Close()
				st, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "active sector: %d (seq %d, offset %d), %d keys, %d rotations\n",
					st.ActiveSector, st.SeqID, st.WriteOffset, st.Keys, st.Rotations)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SECTOR\tERASES\tSTATE\t")
				for _, s := range st.Sectors {
					marker := ""
					if s.Active {
						marker = "*"
					}
					fmt.Fprintf(tw, "%d%s\t%d\t%s\t\n", s.Index, marker, s.EraseCount, s.State)
				}
				tw.Flush()
				for _, op := range st.Operations {
					fmt.Fprintf(w, "%s: %d\n", op.Name, op.Count)
				}
				return nil
			},
		},
	)
	return cmd
}
