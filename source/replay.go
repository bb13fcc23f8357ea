package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/framediff/logging"
)

// TypeReplay cycles through the images of a directory.
const TypeReplay = "replay"

func init() {
	Register(TypeReplay, Registration{
		Constructor: func(ctx context.Context, attrs Attributes, logger logging.Logger) (Camera, error) {
			conf, err := DecodeAttributes[ReplayConfig](attrs)
			if err != nil {
				return nil, err
			}
			return NewReplay(conf, logger)
		},
	})
}

// ReplayConfig configures a replay camera.
type ReplayConfig struct {
	Dir string `json:"dir"`
	// FrameRate paces reads like a sensor would; zero returns frames as fast as they are asked for.
	FrameRate float64 `json:"frame_rate,omitempty"`
}

// Validate checks the config.
func (conf *ReplayConfig) Validate() error {
	if conf.Dir == "" {
		return errors.New("replay: dir is required")
	}
	if conf.FrameRate < 0 {
		return errors.Errorf("replay: frame_rate must be non-negative but got %v", conf.FrameRate)
	}
	return nil
}

var replayExtensions = map[string]string{
	".jpg":  MimeTypeJPEG,
	".jpeg": MimeTypeJPEG,
	".png":  MimeTypePNG,
}

type replayFile struct {
	path     string
	mimeType string
}

type replay struct {
	files  []replayFile
	pacer  *pacer
	logger logging.Logger

	mu     sync.Mutex
	cache  map[int][]byte
	next   int
	closed bool
}

// NewReplay lists the JPEG and PNG files of conf.Dir in name order.
func NewReplay(conf *ReplayConfig, logger logging.Logger) (Camera, error) {
	entries, err := os.ReadDir(conf.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "replay")
	}
	var files []replayFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mimeType, ok := replayExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		files = append(files, replayFile{path: filepath.Join(conf.Dir, entry.Name()), mimeType: mimeType})
	}
	if len(files) == 0 {
		return nil, errors.Errorf("replay: no jpeg or png files in %q", conf.Dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	logger.Debugw("replaying images", "dir", conf.Dir, "count", len(files))
	return &replay{
		files:  files,
		pacer:  newPacer(conf.FrameRate),
		logger: logger,
		cache:  map[int][]byte{},
	}, nil
}

func (r *replay) Read(ctx context.Context) (RawFrame, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return RawFrame{}, ErrClosed
	}
	idx := r.next
	r.next = (r.next + 1) % len(r.files)
	data, cached := r.cache[idx]
	r.mu.Unlock()

	if err := r.pacer.wait(ctx); err != nil {
		return RawFrame{}, err
	}
	file := r.files[idx]
	if !cached {
		var err error
		data, err = os.ReadFile(file.path)
		if err != nil {
			if os.IsNotExist(err) {
				return RawFrame{}, errors.Wrapf(ErrDisconnected, "replay file %q removed", file.path)
			}
			return RawFrame{}, err
		}
		r.mu.Lock()
		if !r.closed {
			r.cache[idx] = data
		}
		r.mu.Unlock()
	}
	return RawFrame{Data: data, MimeType: file.mimeType}, nil
}

func (r *replay) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cache = nil
	return nil
}

// pacer spaces reads by a fixed period. The first read is not delayed.
type pacer struct {
	period time.Duration

	mu   sync.Mutex
	last time.Time
}

func newPacer(frameRate float64) *pacer {
	p := &pacer{}
	if frameRate > 0 {
		p.period = time.Duration(float64(time.Second) / frameRate)
	}
	return p
}

func (p *pacer) wait(ctx context.Context) error {
	if p.period == 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		if wait := time.Until(p.last.Add(p.period)); wait > 0 && !goutils.SelectContextOrWait(ctx, wait) {
			return ctx.Err()
		}
	}
	p.last = time.Now()
	return ctx.Err()
}
