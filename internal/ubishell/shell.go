// Package ubishell implements ubishell's read-only interactive console
// over an attached device image: registry stats, per-PEB inspection, and a
// polling watch mode. It never calls any mutating Core method and never
// persists the image back, so running it alongside ubictl never races a
// concurrent writer.
package ubishell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/calvinalkan/ubi-wl/internal/wl"
	"github.com/calvinalkan/ubi-wl/internal/wlconfig"
)

// Shell is the interactive command loop.
type Shell struct {
	cfg   wlconfig.Config
	liner *liner.State
}

// New builds a Shell over cfg. cfg.SnapshotDir must already hold an
// attached device image (see ubictl attach).
func New(cfg wlconfig.Config) *Shell {
	return &Shell{cfg: cfg}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ubishell_history")
}

// Run starts the REPL loop, reading from stdin and writing to out.
func (s *Shell) Run(out io.Writer) error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = s.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintln(out, "ubishell - read-only console over an attached UBI simulation")
	fmt.Fprintln(out, "Type 'help' for available commands.")
	fmt.Fprintln(out)

	for {
		line, err := s.liner.Prompt("ubishell> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(out, "\nBye!")

				break
			}

			return fmt.Errorf("ubishell: reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if s.dispatch(out, cmd, args) {
			break
		}
	}

	s.saveHistory()

	return nil
}

// dispatch runs one command, reporting whether the shell should exit.
func (s *Shell) dispatch(out io.Writer, cmd string, args []string) bool {
	switch cmd {
	case "exit", "quit", "q":
		fmt.Fprintln(out, "Bye!")

		return true

	case "help", "?":
		s.printHelp(out)

	case "status":
		s.cmdStatus(out)

	case "sets":
		s.cmdSets(out, args)

	case "peb":
		s.cmdPEB(out, args)

	case "watch":
		s.cmdWatch(out, args)

	case "clear", "cls":
		fmt.Fprint(out, "\033[H\033[2J")

	default:
		fmt.Fprintf(out, "unknown command: %s (type 'help' for commands)\n", cmd)
	}

	return false
}

func (s *Shell) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = s.liner.WriteHistory(f)
		f.Close()
	}
}

func (s *Shell) completer(line string) []string {
	commands := []string{"status", "sets", "peb", "watch", "clear", "cls", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)

	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (s *Shell) printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  status               Registry counts for the attached device")
	fmt.Fprintln(out, "  sets <location>      List pnums in free/used/scrub/erroneous (first 50)")
	fmt.Fprintln(out, "  peb <n>              Show one PEB's registry entry")
	fmt.Fprintln(out, "  watch [seconds]      Re-print status every N seconds (default 2) until Ctrl-C")
	fmt.Fprintln(out, "  clear / cls          Clear the screen")
	fmt.Fprintln(out, "  help / ?             Show this help")
	fmt.Fprintln(out, "  exit / quit / q      Exit")
}

func (s *Shell) openReadOnly() (*wl.Core, error) {
	return openAttached(context.Background(), s.cfg)
}

func (s *Shell) cmdStatus(out io.Writer) {
	core, err := s.openReadOnly()
	if err != nil {
		fmt.Fprintln(out, "error:", err)

		return
	}

	printStats(out, core.Stats())
}

func (s *Shell) cmdSets(out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: sets <free|used|scrub|erroneous>")

		return
	}

	var want wl.Location

	switch strings.ToLower(args[0]) {
	case "free":
		want = wl.LocFree
	case "used":
		want = wl.LocUsed
	case "scrub":
		want = wl.LocScrub
	case "erroneous":
		want = wl.LocErroneous
	default:
		fmt.Fprintln(out, "unknown set:", args[0])

		return
	}

	core, err := s.openReadOnly()
	if err != nil {
		fmt.Fprintln(out, "error:", err)

		return
	}

	const maxListed = 50

	count := 0

	for pnum := int32(0); pnum < int32(s.cfg.PEBCount) && count < maxListed; pnum++ {
		info, ok := core.PEBInfo(pnum)
		if !ok || info.Loc != want {
			continue
		}

		fmt.Fprintf(out, "pnum=%d ec=%d\n", info.Pnum, info.EC)

		count++
	}

	if count == 0 {
		fmt.Fprintln(out, "(none)")
	}
}

func (s *Shell) cmdPEB(out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: peb <pnum>")

		return
	}

	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintln(out, "invalid pnum:", args[0])

		return
	}

	core, err := s.openReadOnly()
	if err != nil {
		fmt.Fprintln(out, "error:", err)

		return
	}

	info, ok := core.PEBInfo(int32(n))
	if !ok {
		fmt.Fprintln(out, "pnum", n, "is bad or out of range")

		return
	}

	fmt.Fprintf(out, "pnum=%d ec=%d loc=%s torture=%t num_lebs=%d\n",
		info.Pnum, info.EC, info.Loc, info.Torture, info.NumLEBs)
}

func (s *Shell) cmdWatch(out io.Writer, args []string) {
	interval := 2 * time.Second

	if len(args) > 0 {
		if secs, err := strconv.Atoi(args[0]); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	fmt.Fprintln(out, "watching, press Ctrl-C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.cmdStatus(out)

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(out, "---")
			s.cmdStatus(out)
		case <-stop:
			fmt.Fprintln(out, "")

			return
		}
	}
}

func printStats(out io.Writer, st wl.Stats) {
	fmt.Fprintf(out, "free=%d used=%d scrub=%d erroneous=%d full=%d\n",
		st.Free, st.Used, st.Scrub, st.Erroneous, st.Full)
	fmt.Fprintf(out, "bad_pebs=%d good_pebs=%d max_ec=%d read_only=%t\n",
		st.BadPEBs, st.GoodPEBs, st.MaxEC, st.ReadOnly)
}
