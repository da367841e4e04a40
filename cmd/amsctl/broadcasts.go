package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"

	"github.com/streamwell/ams-console/mediaserver"
)

func broadcastsCmd(ctx context.Context, api *mediaserver.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: amsctl broadcasts <list|get|create|start|stop|delete|stats|record|add-endpoint|remove-endpoint>")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("broadcasts list", flag.ExitOnError)
		typeBy := fs.String("type", "", "filter by type, e.g. liveStream")
		sortBy := fs.String("sort", "", "sort by date|name|status")
		orderBy := fs.String("order", "", "asc|desc")
		search := fs.String("search", "", "name search term")
		offset := fs.Int("offset", 0, "page offset")
		size := fs.Int("size", mediaserver.MaxPageSize, "page size")
		fs.Parse(args[1:])
		list, err := api.ListBroadcasts(ctx, *offset, *size, mediaserver.ListFilter{
			TypeBy:  *typeBy,
			SortBy:  *sortBy,
			OrderBy: *orderBy,
			Search:  *search,
		})
		if err != nil {
			return err
		}
		return printJSON(list)

	case "get":
		if len(args) != 2 {
			return errors.New("usage: amsctl broadcasts get <stream-id>")
		}
		b, err := api.GetBroadcast(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(b)

	case "create":
		fs := flag.NewFlagSet("broadcasts create", flag.ExitOnError)
		typ := fs.String("type", "liveStream", "liveStream|ipCamera|streamSource")
		streamURL := fs.String("stream-url", "", "pull source for streamSource and ipCamera")
		description := fs.String("description", "", "free-form description")
		autoStart := fs.Bool("autostart", false, "start pulling immediately")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return errors.New("usage: amsctl broadcasts create [flags] <name>")
		}
		created, err := api.CreateBroadcast(ctx, &mediaserver.Broadcast{
			Name:        fs.Arg(0),
			Type:        *typ,
			StreamURL:   *streamURL,
			Description: *description,
		}, *autoStart)
		if err != nil {
			return err
		}
		return printJSON(created)

	case "start":
		if len(args) != 2 {
			return errors.New("usage: amsctl broadcasts start <stream-id>")
		}
		res, err := api.StartBroadcast(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "stop":
		if len(args) != 2 {
			return errors.New("usage: amsctl broadcasts stop <stream-id>")
		}
		res, err := api.StopBroadcast(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "delete":
		fs := flag.NewFlagSet("broadcasts delete", flag.ExitOnError)
		subtracks := fs.Bool("subtracks", false, "also delete subtracks")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return errors.New("usage: amsctl broadcasts delete [flags] <stream-id>")
		}
		res, err := api.DeleteBroadcast(ctx, fs.Arg(0), *subtracks)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "stats":
		if len(args) != 2 {
			return errors.New("usage: amsctl broadcasts stats <stream-id>")
		}
		stats, err := api.GetBroadcastStatistics(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "record":
		fs := flag.NewFlagSet("broadcasts record", flag.ExitOnError)
		recordType := fs.String("type", "", "mp4|webm, defaults to mp4")
		height := fs.Int("height", 0, "record one rendition instead of the source")
		fileName := fs.String("file", "", "recording file name")
		fs.Parse(args[1:])
		if fs.NArg() != 2 || (fs.Arg(1) != "on" && fs.Arg(1) != "off") {
			return errors.New("usage: amsctl broadcasts record [flags] <stream-id> <on|off>")
		}
		res, err := api.SetRecording(ctx, fs.Arg(0), fs.Arg(1) == "on", mediaserver.RecordingOptions{
			RecordType:       *recordType,
			ResolutionHeight: *height,
			FileName:         *fileName,
		})
		if err != nil {
			return err
		}
		return printJSON(res)

	case "add-endpoint":
		if len(args) != 3 {
			return errors.New("usage: amsctl broadcasts add-endpoint <stream-id> <rtmp-url>")
		}
		res, err := api.AddRTMPEndpoint(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "remove-endpoint":
		if len(args) != 3 {
			return errors.New("usage: amsctl broadcasts remove-endpoint <stream-id> <endpoint-service-id>")
		}
		res, err := api.RemoveRTMPEndpoint(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(res)

	default:
		return errors.Errorf("unknown broadcasts command %q", args[0])
	}
}
