package source

import (
	"context"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/framediff/logging"
)

// Attributes are the type specific settings of a camera.
type Attributes map[string]interface{}

// Config selects and configures a camera.
type Config struct {
	Type       string     `json:"type"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// A Constructor opens a camera from its attributes.
type Constructor func(ctx context.Context, attrs Attributes, logger logging.Logger) (Camera, error)

// DeviceProperty is one capture mode a device offers.
type DeviceProperty struct {
	Width       int     `json:"width_px"`
	Height      int     `json:"height_px"`
	FrameRate   float32 `json:"frame_rate"`
	FrameFormat string  `json:"format"`
}

// DeviceInfo describes a discovered device.
type DeviceInfo struct {
	Type       string           `json:"type"`
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Label      string           `json:"label"`
	Status     string           `json:"status"`
	Properties []DeviceProperty `json:"properties"`
}

// Registration describes how to open a camera type.
type Registration struct {
	Constructor Constructor
	// Discover lists attached devices. Types without devices leave it nil.
	Discover func(ctx context.Context, logger logging.Logger) ([]DeviceInfo, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register registers a camera type. It panics on a duplicate or nil constructor, so it is
// meant to be called from init.
func Register(typ string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[typ]; old {
		panic(errors.Errorf("trying to register two cameras with the same type %q", typ))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for camera type %q", typ))
	}
	registry[typ] = reg
}

// Lookup returns the registration for typ.
func Lookup(typ string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[typ]
	return reg, ok
}

// Types lists the registered camera types.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Open opens the configured camera and wraps it in a Source decoding with DefaultDecoder.
// Failures are *DeviceError values.
func Open(ctx context.Context, conf Config, logger logging.Logger) (Source, error) {
	reg, ok := Lookup(conf.Type)
	if !ok {
		return nil, &DeviceError{
			Model: conf.Type,
			Err:   errors.Errorf("unknown camera type (have %v)", Types()),
		}
	}
	camLogger := logger.Sublogger(conf.Type)
	cam, err := reg.Constructor(ctx, conf.Attributes, camLogger)
	if err != nil {
		return nil, &DeviceError{Model: conf.Type, Err: err}
	}
	src, err := NewSource(ctx, cam, DefaultDecoder{}, camLogger)
	if err != nil {
		goutils.UncheckedError(cam.Close(ctx))
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			devErr.Model = conf.Type
		}
		return nil, err
	}
	return src, nil
}

// Discover lists the devices of every registered type that supports discovery.
func Discover(ctx context.Context, logger logging.Logger) ([]DeviceInfo, error) {
	var (
		devices []DeviceInfo
		errs    error
	)
	for _, typ := range Types() {
		reg, _ := Lookup(typ)
		if reg.Discover == nil {
			continue
		}
		found, err := reg.Discover(ctx, logger.Sublogger(typ))
		if err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "failed to discover %q cameras", typ))
			continue
		}
		for i := range found {
			found[i].Type = typ
		}
		devices = append(devices, found...)
	}
	return devices, errs
}

// DecodeAttributes decodes attrs into a new T. Keys T does not declare are rejected, strings are
// accepted for numbers and durations, and T's Validate method runs if it has one.
func DecodeAttributes[T any](attrs Attributes) (*T, error) {
	out := new(T)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return nil, errors.Wrap(err, "invalid camera attributes")
	}
	if v, ok := interface{}(out).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
