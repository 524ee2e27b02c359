package ubicli

import (
	"context"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

// GetPEBCmd returns the get-peb command.
func GetPEBCmd(cfg wlconfig.Config) *Command {
	fs := flag.NewFlagSet("get-peb", flag.ContinueOnError)
	internal := fs.Bool("internal", false, "request an internal PEB, bypassing reserved headroom")

	return &Command{
		Flags: fs,
		Usage: "get-peb [--internal]",
		Short: "Allocate a free PEB from the lowest-erase-count pool",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execGetPEB(o, cfg, *internal)
		},
	}
}

func execGetPEB(o *IO, cfg wlconfig.Config, internal bool) error {
	sess, err := openExisting(cfg)
	if err != nil {
		return err
	}

	pnum, err := sess.Core.GetPEB(context.Background(), internal)
	if err != nil {
		return err
	}

	o.Printf("pnum=%d\n", pnum)

	return sess.Save()
}
