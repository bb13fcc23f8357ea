// Package main shows the difference between consecutive camera frames in a window.
package main

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/framediff/capture"
	"go.viam.com/framediff/config"
	"go.viam.com/framediff/gpu/soft"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/render"
	"go.viam.com/framediff/source"
	"go.viam.com/framediff/viewer"
	"go.viam.com/framediff/window"
	"go.viam.com/framediff/window/ebitenwin"
	"go.viam.com/framediff/window/headless"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagLogLevel = "log-level"
	flagHeadless = "headless"
	flagSource   = "source"
)

var logger = logging.NewLogger("framediff")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	return newApp(logger).RunContext(ctx, args)
}

func newApp(logger logging.Logger) *cli.App {
	return &cli.App{
		Name:            "framediff",
		Usage:           "show what changed between consecutive camera frames",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log `LEVEL`: debug, info, warn or error",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  flagHeadless,
				Usage: "render without opening a window",
			},
			&cli.StringFlag{
				Name:  flagSource,
				Usage: "camera `TYPE` to capture from, overriding the config",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			if c.Bool(flagDebug) {
				level = logging.DEBUG
			}
			logger.SetLevel(level)
			return nil
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, logger)
			if err != nil {
				return err
			}
			return run(c.Context, cfg, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "devices",
				Usage: "list attached video devices and their capture modes",
				Action: func(c *cli.Context) error {
					ctx := c.Context
					if c.Bool(flagDebug) {
						ctx = logging.EnableDebugMode(ctx, "devices")
					}
					devices, err := source.Discover(ctx, logger.Sublogger("discovery"))
					if err != nil {
						logger.Warnw("some devices could not be listed", "error", err)
					}
					out, marshalErr := json.MarshalIndent(devices, "", "  ")
					if marshalErr != nil {
						return marshalErr
					}
					_, printErr := c.App.Writer.Write(append(out, '\n'))
					return printErr
				},
			},
		},
	}
}

// loadConfig reads the config file, if any, and applies command line overrides.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %q", path)
		}
	}
	if c.Bool(flagDebug) {
		cfg.Debug = true
	}
	if c.Bool(flagHeadless) {
		cfg.Window.Backend = config.BackendHeadless
	}
	if typ := c.String(flagSource); typ != "" && typ != cfg.Source.Type {
		cfg.Source = source.Config{Type: typ}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if cfg.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	views := append(append([]*view.View{}, capture.Views...), render.Views...)
	if err := view.Register(views...); err != nil {
		return errors.Wrap(err, "failed to register metrics views")
	}
	defer view.Unregister(views...)

	vcfg, err := cfg.Viewer()
	if err != nil {
		return err
	}

	src, err := source.Open(ctx, cfg.Source, logger.Sublogger("source"))
	if err != nil {
		return err
	}
	width, height := src.Resolution()

	var events window.EventLoop
	switch cfg.Window.Backend {
	case config.BackendHeadless:
		events = headless.New(width, height)
	default:
		events, err = ebitenwin.New(ebitenwin.Options{Title: cfg.Window.Title, Width: width, Height: height}, logger.Sublogger("window"))
	}
	var v *viewer.Viewer
	if err == nil {
		inst := soft.NewInstance(soft.Options{AlignedRows: cfg.Render.AlignedUploads})
		v, err = viewer.New(ctx, inst, src, events, vcfg, logger)
	}
	if err != nil {
		return multierr.Combine(err, src.Close(context.Background()))
	}

	logger.Infow("capturing", "source", cfg.Source.Type, "width", width, "height", height, "backend", cfg.Window.Backend)
	return v.Run(ctx)
}
