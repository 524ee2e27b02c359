package ubicli

import (
	"context"
	"errors"
	"strconv"

	"github.com/calvinalkan/ubi-wl/internal/wlconfig"

	flag "github.com/spf13/pflag"
)

var errPnumRequired = errors.New("ubictl: pnum argument is required")

// PutPEBCmd returns the put-peb command.
func PutPEBCmd(cfg wlconfig.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("put-peb", flag.ContinueOnError),
		Usage: "put-peb <pnum>",
		Short: "Return a PEB to circulation (schedules it for erase)",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execPutPEB(o, cfg, args)
		},
	}
}

func execPutPEB(o *IO, cfg wlconfig.Config, args []string) error {
	pnum, err := parsePnum(args)
	if err != nil {
		return err
	}

	sess, err := openExisting(cfg)
	if err != nil {
		return err
	}

	if err := sess.Core.PutPEB(context.Background(), pnum); err != nil {
		return err
	}

	if err := sess.Save(); err != nil {
		return err
	}

	o.Printf("put_peb %d ok\n", pnum)

	return nil
}

func parsePnum(args []string) (int32, error) {
	if len(args) == 0 {
		return 0, errPnumRequired
	}

	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, errors.New("ubictl: invalid pnum: " + args[0])
	}

	return int32(n), nil
}
