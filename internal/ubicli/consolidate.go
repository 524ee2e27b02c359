package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// ConsolidateNowCmd returns the consolidate-now command.
func ConsolidateNowCmd(cfg wlconfig.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("consolidate-now", flag.ContinueOnError),
		Usage: "consolidate-now",
		Short: "Run one consolidation cycle now, skipping the free-pool trigger check",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execConsolidateNow(o, cfg)
		},
	}
}

func execConsolidateNow(o *IO, cfg wlconfig.Config) error {
	sess, err := openExisting(cfg)
	if err != nil {
		return err
	}

	if err := sess.Core.TryConsolidate(context.Background()); err != nil {
		return err
	}

	if err := sess.Save(); err != nil {
		return err
	}

	o.Println("consolidate-now: ok")

	return nil
}
