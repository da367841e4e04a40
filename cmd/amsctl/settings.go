package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/streamwell/ams-console/mediaserver"
)

func settingsCmd(ctx context.Context, api *mediaserver.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: amsctl settings <get|update>")
	}
	switch args[0] {
	case "get":
		settings, err := api.GetSettings(ctx)
		if err != nil {
			return err
		}
		return printJSON(settings)

	case "update":
		if len(args) != 2 {
			return errors.New("usage: amsctl settings update <file.json|->")
		}
		var data []byte
		var err error
		if args[1] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[1])
		}
		if err != nil {
			return errors.Wrap(err, "read settings")
		}
		var settings mediaserver.AppSettings
		if err := json.Unmarshal(data, &settings); err != nil {
			return errors.Wrap(err, "parse settings")
		}
		res, err := api.UpdateSettings(ctx, &settings)
		if err != nil {
			return err
		}
		return printJSON(res)

	default:
		return errors.Errorf("unknown settings command %q", args[0])
	}
}

func profilesCmd(ctx context.Context, api *mediaserver.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: amsctl profiles <add|update|remove>")
	}
	switch args[0] {
	case "add", "update":
		fs := flag.NewFlagSet("profiles "+args[0], flag.ExitOnError)
		height := fs.Int("height", 0, "rendition height, e.g. 720")
		videoBitrate := fs.Int("video-bitrate", 0, "video bitrate in bit/s")
		audioBitrate := fs.Int("audio-bitrate", 0, "audio bitrate in bit/s")
		forceEncode := fs.Bool("force-encode", false, "encode even when the source already matches")
		fs.Parse(args[1:])
		if *height <= 0 {
			return errors.New("-height is required")
		}
		profile := mediaserver.EncoderProfile{
			Height:       *height,
			VideoBitrate: *videoBitrate,
			AudioBitrate: *audioBitrate,
			ForceEncode:  *forceEncode,
		}
		var settings *mediaserver.AppSettings
		var err error
		if args[0] == "add" {
			settings, err = api.AddEncoderProfile(ctx, profile)
		} else {
			settings, err = api.UpdateEncoderProfile(ctx, profile)
		}
		if err != nil {
			return err
		}
		return printJSON(settings.EncoderSettings)

	case "remove":
		if len(args) != 2 {
			return errors.New("usage: amsctl profiles remove <height>")
		}
		height, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Wrap(err, "parse height")
		}
		settings, err := api.RemoveEncoderProfile(ctx, height)
		if err != nil {
			return err
		}
		return printJSON(settings.EncoderSettings)

	default:
		return errors.Errorf("unknown profiles command %q", args[0])
	}
}

func setupCmd(ctx context.Context, api *mediaserver.Client, args []string) error {
	if len(args) == 0 || args[0] != "first-user" {
		return errors.New("usage: amsctl setup first-user -email <email> -password <password>")
	}
	fs := flag.NewFlagSet("setup first-user", flag.ExitOnError)
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password")
	fullName := fs.String("full-name", "", "display name")
	fs.Parse(args[1:])
	if *email == "" || *password == "" {
		return errors.New("-email and -password are required")
	}
	res, err := api.CreateFirstUser(ctx, mediaserver.User{
		Email:    *email,
		Password: *password,
		FullName: *fullName,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}
