package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/streamwell/ams-console/mediaserver"
)

func vodsCmd(ctx context.Context, api *mediaserver.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: amsctl vods <list|get|delete|upload|import|unlink|stalker>")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("vods list", flag.ExitOnError)
		sortBy := fs.String("sort", "", "sort by date|name")
		orderBy := fs.String("order", "", "asc|desc")
		streamID := fs.String("stream", "", "only recordings of this broadcast")
		search := fs.String("search", "", "name search term")
		offset := fs.Int("offset", 0, "page offset")
		size := fs.Int("size", mediaserver.MaxPageSize, "page size")
		fs.Parse(args[1:])
		list, err := api.ListVoDs(ctx, *offset, *size, mediaserver.VoDFilter{
			SortBy:   *sortBy,
			OrderBy:  *orderBy,
			StreamID: *streamID,
			Search:   *search,
		})
		if err != nil {
			return err
		}
		return printJSON(list)

	case "get":
		if len(args) != 2 {
			return errors.New("usage: amsctl vods get <vod-id>")
		}
		vod, err := api.GetVoD(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(vod)

	case "delete":
		if len(args) < 2 {
			return errors.New("usage: amsctl vods delete <vod-id> [<vod-id>...]")
		}
		if len(args) == 2 {
			res, err := api.DeleteVoD(ctx, args[1])
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		res, err := api.DeleteVoDs(ctx, args[1:])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "upload":
		fs := flag.NewFlagSet("vods upload", flag.ExitOnError)
		name := fs.String("name", "", "VoD name, defaults to the file name")
		metadata := fs.String("metadata", "", "free-form metadata attached to the VoD")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return errors.New("usage: amsctl vods upload [flags] <file>")
		}
		file, err := os.Open(fs.Arg(0))
		if err != nil {
			return errors.Wrap(err, "open file")
		}
		defer file.Close()
		if *name == "" {
			*name = filepath.Base(fs.Arg(0))
		}
		res, err := api.UploadVoD(ctx, *name, file, *metadata)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "import":
		if len(args) != 2 {
			return errors.New("usage: amsctl vods import <directory>")
		}
		res, err := api.ImportVoDDirectory(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "unlink":
		if len(args) != 2 {
			return errors.New("usage: amsctl vods unlink <directory>")
		}
		res, err := api.UnlinkVoDDirectory(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(res)

	case "stalker":
		res, err := api.ImportVoDsToStalker(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)

	default:
		return errors.Errorf("unknown vods command %q", args[0])
	}
}
