// Command ubictl drives a simulated UBI-style wear-leveling device from
// the shell: attach, inspect registry stats, allocate/return PEBs, and
// force scrub/consolidation cycles.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/calvinalkan/ubi-wl/internal/ubicli"
)

func main() {
	env := make(map[string]string, len(os.Environ()))

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := ubicli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)

	os.Exit(exitCode)
}
