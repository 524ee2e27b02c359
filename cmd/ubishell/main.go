// Command ubishell is a read-only interactive console over a device image
// previously created with "ubictl attach".
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/ubi-wl/internal/ubishell"
	"github.com/calvinalkan/ubi-wl/internal/wlconfig"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("ubishell", flag.ContinueOnError)
	flagCwd := fs.StringP("cwd", "C", "", "Run as if started in dir")
	flagConfig := fs.StringP("config", "c", "", "Use specified config file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	workDir := *flagCwd
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}

	cfg, err := wlconfig.Load(workDir, *flagConfig, wlconfig.FileConfig{}, os.Environ())
	if err != nil {
		return err
	}

	return ubishell.New(cfg).Run(os.Stdout)
}
