package ubicli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// Run is ubictl's entry point. Returns the process exit code. sigCh may be
// nil (tests, or callers that don't want signal handling).
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("ubictl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagSnapshotDir := globalFlags.String("snapshot-dir", "", "Override the device image `directory`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	cfg, err := wlconfig.Load(workDir, *flagConfig, wlconfig.FileConfig{SnapshotDir: flagOrNil(*flagSnapshotDir)}, envList)
	if err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	commands := allCommands(cfg)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)

		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")

		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")

		return 130
	}
}

func allCommands(cfg wlconfig.Config) []*Command {
	return []*Command{
		AttachCmd(cfg),
		StatusCmd(cfg),
		GetPEBCmd(cfg),
		PutPEBCmd(cfg),
		ScrubCmd(cfg),
		ConsolidateNowCmd(cfg),
		PrintConfigCmd(cfg),
	}
}

func flagOrNil(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "ubictl: a UBI-style wear-leveling engine over a simulated NAND device")
	fprintln(w, "")
	fprintln(w, "Usage: ubictl [global options] <command> [args]")
	fprintln(w, "")
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w, "")
	printGlobalOptions(w)
}

func printGlobalOptions(w io.Writer) {
	fprintln(w, globalOptionsHelp)
}

const globalOptionsHelp = `Global options:
  -h, --help             Show help
  -C, --cwd dir          Run as if started in dir
  -c, --config file      Use specified config file
      --snapshot-dir dir Override the device image directory`
