package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/streamwell/ams-console/probe"
)

func probeCmd(ctx context.Context, args []string, timeout time.Duration) error {
	if len(args) == 0 {
		return errors.New("usage: amsctl probe <hls|dash|camera> <url>")
	}
	prober := probe.New(timeout)
	switch args[0] {
	case "hls":
		if len(args) != 2 {
			return errors.New("usage: amsctl probe hls <playlist-url>")
		}
		health, err := prober.HLS(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(health)

	case "dash":
		if len(args) != 2 {
			return errors.New("usage: amsctl probe dash <manifest-url>")
		}
		health, err := prober.DASH(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(health)

	case "camera":
		fs := flag.NewFlagSet("probe camera", flag.ExitOnError)
		username := fs.String("user", "", "digest auth user")
		password := fs.String("pass", "", "digest auth password")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return errors.New("usage: amsctl probe camera [flags] <url>")
		}
		if err := prober.Camera(ctx, fs.Arg(0), *username, *password); err != nil {
			return err
		}
		fmt.Println("camera reachable")
		return nil

	default:
		return errors.Errorf("unknown probe command %q", args[0])
	}
}
