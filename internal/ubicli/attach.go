package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// AttachCmd returns the attach command.
func AttachCmd(cfg wlconfig.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("attach", flag.ContinueOnError),
		Usage: "attach",
		Short: "Provision a fresh simulated device and attach the engine",
		Long:  "Creates a blank simulated NAND device sized per configuration, attaches the wear-leveling engine to it (classifying every PEB free), and persists the result for subsequent commands.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execAttach(o, cfg)
		},
	}
}

func execAttach(o *IO, cfg wlconfig.Config) error {
	sess, err := openFresh(cfg)
	if err != nil {
		return err
	}

	if err := sess.Save(); err != nil {
		return err
	}

	o.Printf("attached: %d pebs x %d bytes\n", cfg.PEBCount, cfg.PEBSize)
	printStats(o, sess.Core.Stats())

	return nil
}
