package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"go.viam.com/framediff/config"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/source"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framediff.json")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestFlagsOverrideConfig(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := writeConfig(t, `{"source": {"type": "replay", "attributes": {"dir": "/nowhere"}}}`)

	var got *config.Config
	app := newApp(logger)
	app.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c, logger)
		got = cfg
		return err
	}
	err := app.Run([]string{"framediff", "-c", path, "--headless", "--debug", "--source", "fake"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Window.Backend, test.ShouldEqual, config.BackendHeadless)
	test.That(t, got.Debug, test.ShouldBeTrue)
	test.That(t, got.Source, test.ShouldResemble, source.Config{Type: source.TypeFake})
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.DEBUG)
}

func TestBadConfigFails(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := writeConfig(t, `{"window": {"backend": "x11"}}`)
	err := newApp(logger).Run([]string{"framediff", "--config", path})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown backend "x11"`)

	err = newApp(logger).Run([]string{"framediff", "--source", "lidar", "--headless"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown type "lidar"`)

	err = newApp(logger).Run([]string{"framediff", "--log-level", "verbose", "--headless"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

func TestHeadlessRunStopsOnCancel(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := writeConfig(t, `{
		"source": {"type": "fake", "attributes": {"width_px": 32, "height_px": 24, "frame_rate": 100}},
		"window": {"backend": "headless"},
		"render": {"aligned_uploads": true}
	}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := mainWithArgs(ctx, []string{"framediff", "--config", path}, logger)
	test.That(t, err, test.ShouldBeNil)
}

func TestDevicesPrintsJSON(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var out bytes.Buffer
	app := newApp(logger)
	app.Writer = &out
	test.That(t, app.Run([]string{"framediff", "devices"}), test.ShouldBeNil)

	var devices []source.DeviceInfo
	test.That(t, json.Unmarshal(out.Bytes(), &devices), test.ShouldBeNil)
}
