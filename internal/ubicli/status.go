package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wl"
	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// StatusCmd returns the status command.
func StatusCmd(cfg wlconfig.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("status", flag.ContinueOnError),
		Usage: "status",
		Short: "Print registry counts for the attached device",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execStatus(o, cfg)
		},
	}
}

func execStatus(o *IO, cfg wlconfig.Config) error {
	sess, err := openExisting(cfg)
	if err != nil {
		return err
	}

	printStats(o, sess.Core.Stats())

	return sess.Save()
}

func printStats(o *IO, s wl.Stats) {
	o.Printf("free=%d used=%d scrub=%d erroneous=%d full=%d\n", s.Free, s.Used, s.Scrub, s.Erroneous, s.Full)
	o.Printf("bad_pebs=%d good_pebs=%d max_ec=%d read_only=%t\n", s.BadPEBs, s.GoodPEBs, s.MaxEC, s.ReadOnly)
}
