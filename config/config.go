// Package config defines the framediff configuration file.
package config

import (
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/framediff/capture"
	"go.viam.com/framediff/gpu"
	"go.viam.com/framediff/render"
	"go.viam.com/framediff/shader"
	"go.viam.com/framediff/source"
	"go.viam.com/framediff/viewer"
)

// Window backends.
const (
	BackendEbiten   = "ebiten"
	BackendHeadless = "headless"
)

// Config is the whole configuration of a framediff process.
type Config struct {
	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`

	Source  source.Config `json:"source"`
	Window  Window        `json:"window"`
	Render  Render        `json:"render"`
	Capture Capture       `json:"capture"`
	Debug   bool          `json:"debug"`
}

// Window selects how frames are shown.
type Window struct {
	Backend string `json:"backend"`
	Title   string `json:"title"`
}

// Render configures the renderer.
type Render struct {
	ClearColor string `json:"clear_color"`
	Shader     string `json:"shader"`
	// AlignedUploads makes the software device require 256 byte aligned texture rows, as most
	// hardware backends do.
	AlignedUploads     bool `json:"aligned_uploads"`
	MaxSurfaceFailures int  `json:"max_surface_failures"`
}

// Capture configures capture retries. Durations use time.ParseDuration syntax.
type Capture struct {
	MaxConsecutiveFailures int    `json:"max_consecutive_failures"`
	RetryBackoff           string `json:"retry_backoff"`
	MaxRetryBackoff        string `json:"max_retry_backoff"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	defaults := capture.DefaultConfig()
	return &Config{
		Source: source.Config{Type: source.TypeWebcam},
		Window: Window{Backend: BackendEbiten, Title: "framediff"},
		Render: Render{
			ClearColor:         "#00ff00",
			Shader:             shader.DefaultName,
			MaxSurfaceFailures: viewer.DefaultMaxSurfaceFailures,
		},
		Capture: Capture{
			MaxConsecutiveFailures: defaults.MaxConsecutiveFailures,
			RetryBackoff:           defaults.RetryBackoff.String(),
			MaxRetryBackoff:        defaults.MaxRetryBackoff.String(),
		},
	}
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() error {
	return multierr.Combine(
		c.validateSource("source"),
		c.Window.Validate("window"),
		c.Render.Validate("render"),
		c.Capture.Validate("capture"),
	)
}

func (c *Config) validateSource(path string) error {
	if c.Source.Type == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "type")
	}
	if _, ok := source.Lookup(c.Source.Type); !ok {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown type %q (have %v)", c.Source.Type, source.Types()))
	}
	return nil
}

// Validate ensures the window section is usable.
func (w *Window) Validate(path string) error {
	switch w.Backend {
	case BackendEbiten, BackendHeadless:
		return nil
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "backend")
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown backend %q", w.Backend))
	}
}

// Validate ensures the render section is usable.
func (r *Render) Validate(path string) error {
	var errs error
	if _, err := r.Color(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}
	if _, err := shader.Lookup(r.Shader); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}
	if r.MaxSurfaceFailures < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.New("max_surface_failures cannot be negative")))
	}
	return errs
}

// Color parses the clear color as a hex triplet.
func (r *Render) Color() (gpu.Color, error) {
	c, err := colorful.Hex(r.ClearColor)
	if err != nil {
		return gpu.Color{}, errors.Wrapf(err, "invalid clear_color %q", r.ClearColor)
	}
	return gpu.Color{R: c.R, G: c.G, B: c.B, A: 1}, nil
}

// Options returns renderer options for the section.
func (r *Render) Options() (render.Options, error) {
	clearColor, err := r.Color()
	if err != nil {
		return render.Options{}, err
	}
	program, err := shader.Lookup(r.Shader)
	if err != nil {
		return render.Options{}, err
	}
	return render.Options{Program: program, ClearColor: clearColor}, nil
}

// Validate ensures the capture section is usable.
func (c *Capture) Validate(path string) error {
	if c.MaxConsecutiveFailures < 1 {
		return goutils.NewConfigValidationError(path, errors.New("max_consecutive_failures must be at least 1"))
	}
	cfg, err := c.Config()
	if err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("max_retry_backoff %s is shorter than retry_backoff %s", cfg.MaxRetryBackoff, cfg.RetryBackoff))
	}
	return nil
}

// Config returns the capture loop configuration for the section.
func (c *Capture) Config() (capture.Config, error) {
	backoff, err := parsePositiveDuration("retry_backoff", c.RetryBackoff)
	if err != nil {
		return capture.Config{}, err
	}
	maxBackoff, err := parsePositiveDuration("max_retry_backoff", c.MaxRetryBackoff)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		RetryBackoff:           backoff,
		MaxRetryBackoff:        maxBackoff,
	}, nil
}

func parsePositiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive but got %s", field, s)
	}
	return d, nil
}

// Viewer returns the viewer configuration.
func (c *Config) Viewer() (viewer.Config, error) {
	opts, err := c.Render.Options()
	if err != nil {
		return viewer.Config{}, err
	}
	captureCfg, err := c.Capture.Config()
	if err != nil {
		return viewer.Config{}, err
	}
	return viewer.Config{
		Render:             opts,
		Capture:            captureCfg,
		MaxSurfaceFailures: c.Render.MaxSurfaceFailures,
	}, nil
}
