package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the config print command.
func PrintConfigCmd(cfg wlconfig.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration as JSON",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execPrintConfig(o, cfg, args)
		},
	}
}

func execPrintConfig(o *IO, cfg wlconfig.Config, _ []string) error {
	out, err := wlconfig.Format(cfg)
	if err != nil {
		return err
	}

	o.Println(out)

	return nil
}
