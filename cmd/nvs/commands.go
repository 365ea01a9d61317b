package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KevoDB/tinynvs/pkg/image"
	"github.com/KevoDB/tinynvs/pkg/store"
)

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				return st.Set([]byte(args[0]), []byte(args[1]))
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				value, err := st.Value([]byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete KEY",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				return st.Delete([]byte(args[0]))
			})
		},
	}
}

// printSectors writes the sector table
func printSectors(w io.Writer, st *store.Store) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTOR\tADDR\tERASES\tSTATE\t")
	for _, s := range st.Sectors() {
		marker := ""
		if s.Active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t0x%06X\t%d\t%s\t\n", s.Index, marker, s.Addr, s.EraseCount, s.State)
	}
	tw.Flush()
}

func newSectorsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sectors",
		Short: "Show the sector table; the active sector is marked *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				printSectors(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

// printStats writes the layout and what the mount recovered
func printStats(w io.Writer, st *store.Store) {
	r := st.Recovery()
	fmt.Fprintf(w, "active sector: %d (seq %d, offset %d)\n", st.ActiveSector(), st.SeqID(), st.WriteOffset())
	fmt.Fprintf(w, "keys: %d\n", st.Len())
	fmt.Fprintf(w, "recovery: %d sectors scanned, %d entries recovered, %d corrupted, %d interrupted gc, %d stale sectors",
		r.SectorsScanned, r.EntriesRecovered, r.CorruptedEntries, r.InterruptedGCs, r.StaleSectors)
	if r.DirtyTail {
		fmt.Fprint(w, ", dirty tail")
	}
	fmt.Fprintln(w)
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the store layout and mount recovery report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				printStats(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newWLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wl",
		Short: "Run one static wear-leveling check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				reclaimed, err := st.CheckStaticWL()
				if err != nil {
					return err
				}
				if reclaimed {
					fmt.Fprintln(cmd.OutOrStdout(), "cold sector reclaimed")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "wear within threshold")
				}
				return nil
			})
		},
	}
}

func newRotateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Force a garbage collection of the active sector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(st *store.Store) error {
				from := st.ActiveSector()
				if err := st.Rotate(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rotated %d -> %d (seq %d)\n", from, st.ActiveSector(), st.SeqID())
				return nil
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var codecName string

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write a compressed copy of the flash image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := image.ParseCodec(codecName)
			if err != nil {
				return err
			}
			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			h, err := image.Export(dev, f, codec)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d sectors of %d bytes (%s)\n", h.SectorCount, h.SectorSize, h.Codec)
			return nil
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", "zstd", "compression: none, zstd, snappy")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the flash image with an exported copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			h, err := image.Import(f, dev)
			if err := errors.Join(err, dev.Close()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sectors of %d bytes (%s)\n", h.SectorCount, h.SectorSize, h.Codec)
			return nil
		},
	}
}
