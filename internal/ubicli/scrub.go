package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// ScrubCmd returns the scrub command.
func ScrubCmd(cfg wlconfig.Config) *Command {
	fs := flag.NewFlagSet("scrub", flag.ContinueOnError)
	torture := fs.Bool("torture", false, "run a write-pattern/erase torture cycle instead of a plain erase")

	return &Command{
		Flags: fs,
		Usage: "scrub <pnum> [--torture]",
		Short: "Move a PEB into the scrub queue for rewrite-on-next-WL-pass",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execScrub(o, cfg, args, *torture)
		},
	}
}

func execScrub(o *IO, cfg wlconfig.Config, args []string, torture bool) error {
	pnum, err := parsePnum(args)
	if err != nil {
		return err
	}

	sess, err := openExisting(cfg)
	if err != nil {
		return err
	}

	if err := sess.Core.ScrubPEB(context.Background(), pnum, torture); err != nil {
		return err
	}

	if err := sess.Save(); err != nil {
		return err
	}

	o.Printf("scrub %d scheduled\n", pnum)

	return nil
}
