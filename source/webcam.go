package source

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/availability"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/framediff/logging"
)

// TypeWebcam is a video device opened through pion/mediadevices.
const TypeWebcam = "webcam"

func init() {
	Register(TypeWebcam, Registration{
		Constructor: func(ctx context.Context, attrs Attributes, logger logging.Logger) (Camera, error) {
			conf, err := DecodeAttributes[WebcamConfig](attrs)
			if err != nil {
				return nil, err
			}
			return NewWebcam(ctx, conf, logger)
		},
		Discover: func(ctx context.Context, logger logging.Logger) ([]DeviceInfo, error) {
			return DiscoverWebcams(ctx, func() []driverutils.Driver {
				return driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
			}, logger)
		},
	})
}

// WebcamConfig selects a video device either by path (or label) or by its index among attached
// video devices. Zero sizes and rates leave the choice to the driver.
type WebcamConfig struct {
	Path      string  `json:"path,omitempty"`
	Index     *int    `json:"index,omitempty"`
	Format    string  `json:"format,omitempty"`
	Width     int     `json:"width_px,omitempty"`
	Height    int     `json:"height_px,omitempty"`
	FrameRate float32 `json:"frame_rate,omitempty"`
	Debug     bool    `json:"debug,omitempty"`
}

// Validate checks the config.
func (conf *WebcamConfig) Validate() error {
	if conf.Path != "" && conf.Index != nil {
		return errors.New("webcam: path and index are mutually exclusive")
	}
	if conf.Index != nil && *conf.Index < 0 {
		return errors.Errorf("webcam: index must be non-negative but got %d", *conf.Index)
	}
	if conf.Width < 0 || conf.Height < 0 {
		return errors.Errorf("webcam: width_px and height_px must be non-negative but got %dx%d", conf.Width, conf.Height)
	}
	if conf.FrameRate < 0 {
		return errors.Errorf("webcam: frame_rate must be non-negative but got %v", conf.FrameRate)
	}
	return nil
}

// makeConstraints returns the mediadevices constraints for conf. MJPEG is preferred when no
// format is requested so frames go through the JPEG decoder as the camera produced them.
func makeConstraints(conf *WebcamConfig, logger logging.Logger) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if conf.Width > 0 {
				constraint.Width = prop.IntExact(conf.Width)
			} else {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
			}

			if conf.Height > 0 {
				constraint.Height = prop.IntExact(conf.Height)
			} else {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
			}

			if conf.FrameRate > 0 {
				constraint.FrameRate = prop.FloatExact(conf.FrameRate)
			} else {
				constraint.FrameRate = prop.FloatRanged{Min: 0.0, Ideal: 30.0, Max: 140.0}
			}

			if conf.Format == "" {
				constraint.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatMJPEG,
					frame.FormatYUY2,
					frame.FormatI420,
					frame.FormatNV12,
					frame.FormatUYVY,
					frame.FormatRGBA,
				}
			} else {
				constraint.FrameFormat = prop.FrameFormatExact(conf.Format)
			}

			if conf.Debug {
				logger.Debugf("constraints: %v", constraint)
			}
		},
	}
}

// webcam reads frames from a mediadevices video track.
type webcam struct {
	label  string
	track  mediadevices.Track
	reader video.Reader
	driver driverutils.Driver
	logger logging.Logger
	closed atomic.Bool
}

// NewWebcam opens the video device selected by conf.
func NewWebcam(ctx context.Context, conf *WebcamConfig, logger logging.Logger) (Camera, error) {
	mediadevicescamera.Initialize()

	path := conf.Path
	if path == "" && conf.Index != nil {
		drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
		if *conf.Index >= len(drivers) {
			return nil, errors.Errorf("webcam index %d requested but %d video devices found", *conf.Index, len(drivers))
		}
		path = strings.Split(drivers[*conf.Index].Info().Label, mediadevicescamera.LabelSeparator)[0]
	}
	if path != "" {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
	}

	track, reader, driver, err := openTrack(filepath.Base(path), makeConstraints(conf, logger))
	if err != nil {
		if path == "" {
			return nil, errors.Wrap(err, "found no webcams")
		}
		return nil, errors.Wrapf(err, "failed to open webcam %q", path)
	}
	label := path
	if label == "" {
		label = strings.Split(driver.Info().Label, mediadevicescamera.LabelSeparator)[0]
	}
	cam := &webcam{
		label:  label,
		track:  track,
		reader: reader,
		driver: driver,
		logger: logger.WithFields("camera_label", label),
	}
	cam.logger.Infow("opened webcam", "driver", driver.Info().Name)
	return cam, nil
}

// openTrack opens a video track on the device whose label contains name, or on any device when
// name is empty, and returns its reader and driver.
func openTrack(
	name string,
	constraints mediadevices.MediaStreamConstraints,
) (mediadevices.Track, video.Reader, driverutils.Driver, error) {
	if name != "" {
		base := constraints.Video
		constraints.Video = func(constraint *mediadevices.MediaTrackConstraints) {
			base(constraint)
			constraint.DeviceID = prop.StringExact(findDeviceID(name))
		}
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, nil, nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, nil, errors.New("device has no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, nil, nil, errors.Errorf("unexpected track type %T", tracks[0])
	}
	drivers := driverutils.GetManager().Query(func(d driverutils.Driver) bool {
		return d.ID() == track.ID()
	})
	if len(drivers) == 0 {
		return nil, nil, nil, multierr.Combine(errors.New("no driver backs the opened track"), track.Close())
	}
	return track, track.NewReader(false), drivers[0], nil
}

// findDeviceID returns the driver ID of the video device labeled name, or name itself so an ID
// may be given directly.
func findDeviceID(name string) string {
	for _, d := range driverutils.GetManager().Query(driverutils.FilterVideoRecorder()) {
		for _, label := range strings.Split(d.Info().Label, mediadevicescamera.LabelSeparator) {
			if label == name || filepath.Base(label) == name {
				return d.ID()
			}
		}
	}
	return name
}

func (c *webcam) Read(ctx context.Context) (RawFrame, error) {
	if c.closed.Load() {
		return RawFrame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return RawFrame{}, err
	}
	img, release, err := c.reader.Read()
	if err != nil {
		if c.closed.Load() {
			return RawFrame{}, ErrClosed
		}
		if !c.connected() {
			return RawFrame{}, errors.Wrapf(ErrDisconnected, "webcam %q: %v", c.label, err)
		}
		return RawFrame{}, errors.Wrapf(err, "webcam %q", c.label)
	}
	return RawFrame{Image: img, Release: release}, nil
}

// connected reports whether the device is still attached.
func (c *webcam) connected() bool {
	_, err := driverutils.IsAvailable(c.driver)
	return !errors.Is(err, availability.ErrNoDevice)
}

func (c *webcam) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.New("webcam already closed")
	}
	c.logger.Debug("closing webcam")
	return c.track.Close()
}

// getDriverProperties returns the capture modes of d, opening it briefly if needed.
func getDriverProperties(d driverutils.Driver) (_ []prop.Media, err error) {
	if d.Status() == driverutils.StateClosed {
		if errOpen := d.Open(); errOpen != nil {
			return nil, errOpen
		}
		defer func() {
			if errClose := d.Close(); errClose != nil {
				err = errClose
			}
		}()
	}
	return d.Properties(), err
}

// DiscoverWebcams lists the video devices returned by getDrivers that are not in use.
func DiscoverWebcams(ctx context.Context, getDrivers func() []driverutils.Driver, logger logging.Logger) ([]DeviceInfo, error) {
	mediadevicescamera.Initialize()
	var webcams []DeviceInfo
	for _, d := range getDrivers() {
		driverInfo := d.Info()
		if d.Status() == driverutils.StateRunning {
			logger.CDebugw(ctx, "driver is in use, skipping discovery...", "driver", driverInfo.Label)
			continue
		}
		props, err := getDriverProperties(d)
		if err != nil {
			logger.CDebugw(ctx, "cannot access driver properties, skipping discovery...", "driver", driverInfo.Label, "error", err)
			continue
		}
		if len(props) == 0 {
			logger.CDebugw(ctx, "no properties detected for driver, skipping discovery...", "driver", driverInfo.Label)
			continue
		}

		label := strings.Split(driverInfo.Label, mediadevicescamera.LabelSeparator)[0]
		name, id := label, label
		if nameParts := strings.Split(driverInfo.Name, mediadevicescamera.LabelSeparator); len(nameParts) > 1 {
			name, id = nameParts[0], nameParts[1]
		} else if nameParts[0] != "" {
			name = nameParts[0]
		}

		info := DeviceInfo{
			ID:         id,
			Name:       name,
			Label:      label,
			Status:     string(d.Status()),
			Properties: make([]DeviceProperty, 0, len(props)),
		}
		for _, p := range props {
			info.Properties = append(info.Properties, DeviceProperty{
				Width:       p.Video.Width,
				Height:      p.Video.Height,
				FrameRate:   p.Video.FrameRate,
				FrameFormat: string(p.Video.FrameFormat),
			})
		}
		webcams = append(webcams, info)
	}
	return webcams, nil
}
