package source

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/framediff/logging"
)

func TestReplay(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "b.png"), solidPNG(t, 2, 2, color.RGBA{G: 7, A: 255}), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "a.PNG"), solidPNG(t, 2, 2, color.RGBA{R: 7, A: 255}), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600), test.ShouldBeNil)

	src, err := Open(ctx, Config{Type: TypeReplay, Attributes: Attributes{"dir": dir}}, logger)
	test.That(t, err, test.ShouldBeNil)

	var reds, greens int
	for i := 0; i < 4; i++ {
		f, err := src.Next(ctx)
		test.That(t, err, test.ShouldBeNil)
		switch {
		case f.Data[0] == 7:
			reds++
			test.That(t, i%2, test.ShouldEqual, 0)
		case f.Data[1] == 7:
			greens++
		}
	}
	test.That(t, reds, test.ShouldEqual, 2)
	test.That(t, greens, test.ShouldEqual, 2)

	test.That(t, src.Close(ctx), test.ShouldBeNil)
	_, err = src.Next(ctx)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
}

func TestReplayConfig(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewReplay(&ReplayConfig{Dir: t.TempDir()}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no jpeg or png files")

	_, err = DecodeAttributes[ReplayConfig](Attributes{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeAttributes[ReplayConfig](Attributes{"dir": "x", "frame_rate": -1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplayRemovedFileDisconnects(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "only.png")
	test.That(t, os.WriteFile(path, solidPNG(t, 1, 1, color.RGBA{A: 255}), 0o600), test.ShouldBeNil)
	extra := filepath.Join(dir, "zz.png")
	test.That(t, os.WriteFile(extra, solidPNG(t, 1, 1, color.RGBA{A: 255}), 0o600), test.ShouldBeNil)

	cam, err := NewReplay(&ReplayConfig{Dir: dir}, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = cam.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.Remove(extra), test.ShouldBeNil)
	_, err = cam.Read(ctx)
	test.That(t, errors.Is(err, ErrDisconnected), test.ShouldBeTrue)
}
