package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/KevoDB/tinynvs/pkg/store"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".sectors"),
	readline.PcItem(".rotate"),
	readline.PcItem(".wl"),
	readline.PcItem("SET"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("KEYS"),
)

const helpText = `
nvs shell - interactive access to a mounted store

Commands:
  .help                   - Show this help message
  .exit                   - Unmount and exit
  .stats                  - Show the store layout and mount recovery report
  .sectors                - Show the sector table
  .rotate                 - Force a garbage collection of the active sector
  .wl                     - Run one static wear-leveling check

  SET key value           - Store a value; the rest of the line is the value
  GET key                 - Retrieve a value by key
  DELETE key              - Delete a key
  KEYS                    - List live keys in log order
`

type shell struct {
	st  *store.Store
	out io.Writer
}

// exec runs one line and reports whether the shell should exit
func (sh *shell) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(sh.out, helpText)
		case ".exit":
			return true
		case ".stats":
			printStats(sh.out, sh.st)
		case ".sectors":
			printSectors(sh.out, sh.st)
		case ".rotate":
			from := sh.st.ActiveSector()
			if err := sh.st.Rotate(); err != nil {
				fmt.Fprintf(sh.out, "Error: %s\n", err)
				return false
			}
			fmt.Fprintf(sh.out, "Rotated %d -> %d (seq %d)\n", from, sh.st.ActiveSector(), sh.st.SeqID())
		case ".wl":
			reclaimed, err := sh.st.CheckStaticWL()
			if err != nil {
				fmt.Fprintf(sh.out, "Error: %s\n", err)
				return false
			}
			fmt.Fprintf(sh.out, "Reclaimed: %t\n", reclaimed)
		default:
			fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
		}
		return false
	}

	switch cmd {
	case "SET":
		if len(parts) < 3 {
			fmt.Fprintln(sh.out, "Error: SET requires key and value arguments")
			return false
		}
		start := time.Now()
		if err := sh.st.Set([]byte(parts[1]), []byte(strings.Join(parts[2:], " "))); err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return false
		}
		fmt.Fprintf(sh.out, "OK (%.2f ms)\n", float64(time.Since(start).Microseconds())/1000.0)

	case "GET":
		if len(parts) != 2 {
			fmt.Fprintln(sh.out, "Error: GET requires a key argument")
			return false
		}
		value, err := sh.st.Value([]byte(parts[1]))
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return false
		}
		fmt.Fprintf(sh.out, "%s\n", value)

	case "DELETE":
		if len(parts) != 2 {
			fmt.Fprintln(sh.out, "Error: DELETE requires a key argument")
			return false
		}
		if err := sh.st.Delete([]byte(parts[1])); err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return false
		}
		fmt.Fprintln(sh.out, "OK")

	case "KEYS":
		keys := sh.st.Keys()
		for _, k := range keys {
			fmt.Fprintf(sh.out, "%s\n", k)
		}
		fmt.Fprintf(sh.out, "%d keys\n", len(keys))

	default:
		fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
	}
	return false
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on the image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			historyFile := filepath.Join(os.TempDir(), ".nvs_history")
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          fmt.Sprintf("nvs:%s> ", filepath.Base(a.imagePath)),
				HistoryFile:     historyFile,
				AutoComplete:    completer,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer rl.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Enter .help for usage hints.")
			sh := &shell{st: s.store, out: out}
			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					if len(line) == 0 {
						return nil
					}
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if sh.exec(line) {
					return nil
				}
			}
		},
	}
}
