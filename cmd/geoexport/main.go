// cmd/geoexport/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// errPartial is returned by actions whose batch finished with failed jobs.
var errPartial = errors.New("batch finished with failed jobs")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	batchFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "environment file",
			Value: ".env",
		},
		&cli.StringSliceFlag{
			Name:  "region",
			Usage: "US state name (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "conus",
			Usage: "add the contiguous United States as a region",
		},
		&cli.StringSliceFlag{
			Name:  "bbox",
			Usage: "bounding box region as name=west,south,east,north (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:     "year",
			Usage:    "year or year range such as 2008-2012 (repeatable)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "months",
			Usage: "month range of monthly windows",
			Value: "1-12",
		},
		&cli.BoolFlag{
			Name:  "annual",
			Usage: "one window per year instead of monthly windows",
		},
		&cli.StringSliceFlag{
			Name:  "indicator",
			Usage: "indicator name (repeatable); defaults to every configured indicator",
		},
		&cli.StringFlag{
			Name:  "dest",
			Usage: "local directory for downloaded rasters (defaults to DATA_DIR)",
		},
	}

	app := &cli.Command{
		Name:  "geoexport",
		Usage: "export satellite indicator rasters for regions and time windows",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "submit, track and download a batch of exports",
				Flags:  batchFlags,
				Action: runAction,
			},
			{
				Name:   "plan",
				Usage:  "print the job matrix without submitting anything",
				Flags:  batchFlags,
				Action: planAction,
			},
			{
				Name:  "sweep",
				Usage: "download and purge exports left in the remote folder by an interrupted run",
				Flags: append(batchFlags, &cli.BoolFlag{
					Name:  "execute",
					Usage: "download and delete; without it matches are only listed",
				}),
				Action: sweepAction,
			},
		},
	}

	err := app.Run(ctx, os.Args)
	switch {
	case err == nil:
	case errors.Is(err, errPartial):
		os.Exit(2)
	default:
		fatal(logger, "geoexport failed", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
