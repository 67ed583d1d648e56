// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package playback

import (
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kortschak/seqplay/internal/clock"
	"github.com/kortschak/seqplay/internal/preload"
	"github.com/kortschak/seqplay/internal/render"
)

// Options holds the construction options for an Engine. Zero values take
// the corresponding value from Defaults.
type Options struct {
	// Mount is the host region the engine renders into.
	Mount render.Mount

	// FrameNames is the ordered list of frame names without
	// extension.
	FrameNames []string
	// Extension is the frame resource extension. A leading dot is
	// ignored.
	Extension string
	// ResourcePath is the prefix for frame addresses.
	ResourcePath string

	// Interval is the target frame interval.
	Interval time.Duration
	// FPS is the target frame rate. If positive, it overrides
	// Interval.
	FPS float64

	Loop     *bool
	AutoPlay *bool

	// RenderMode is "surface" or "element".
	RenderMode string

	// Clock is the animation clock. If nil, a clock.Timer is used.
	Clock clock.Clock

	// Base, Client and FS configure frame loading.
	// See frame.Loader for details.
	Base   *url.URL
	Client *http.Client
	FS     fs.FS

	// Concurrency is the maximum number of concurrent frame
	// loads during preload.
	Concurrency int

	// OnWarning is called with a *Warning for each soft
	// playback condition.
	OnWarning func(error)
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Config is a resolved engine configuration.
type Config struct {
	FrameNames   []string
	Extension    string
	ResourcePath string
	Interval     time.Duration
	Loop         bool
	AutoPlay     bool
	RenderMode   render.Mode
	Concurrency  int
}

// Defaults returns the default engine configuration.
func Defaults() Config {
	return Config{
		Extension:    "webp",
		ResourcePath: "/imgs/",
		Interval:     100 * time.Millisecond,
		Loop:         true,
		AutoPlay:     true,
		RenderMode:   render.ModeSurface,
		Concurrency:  preload.DefaultLimit,
	}
}

// Resolve merges opts with Defaults and validates the result. Any error
// returned is a *ConfigError.
func Resolve(opts Options) (Config, error) {
	cfg := Defaults()
	if opts.Mount == nil {
		return cfg, &ConfigError{Field: "mount", Reason: "missing mount reference"}
	}
	if len(opts.FrameNames) == 0 {
		return cfg, &ConfigError{Field: "frameNames", Reason: "no frame names"}
	}
	for i, n := range opts.FrameNames {
		if n == "" {
			return cfg, &ConfigError{Field: "frameNames", Reason: fmt.Sprintf("empty frame name at index %d", i)}
		}
	}
	cfg.FrameNames = slices.Clone(opts.FrameNames)

	if opts.Extension != "" {
		cfg.Extension = strings.TrimPrefix(opts.Extension, ".")
		if cfg.Extension == "" {
			return cfg, &ConfigError{Field: "extension", Reason: "missing resource extension"}
		}
	}
	if opts.ResourcePath != "" {
		cfg.ResourcePath = opts.ResourcePath
	}
	if !strings.HasSuffix(cfg.ResourcePath, "/") {
		cfg.ResourcePath += "/"
	}

	if opts.Interval > 0 {
		cfg.Interval = opts.Interval
	}
	switch {
	case opts.FPS == 0:
	case opts.FPS < 0, math.IsNaN(opts.FPS), math.IsInf(opts.FPS, 0):
		return cfg, &ConfigError{Field: "fps", Reason: fmt.Sprintf("invalid frame rate: %v", opts.FPS)}
	default:
		cfg.Interval = fpsInterval(opts.FPS)
		if cfg.Interval <= 0 {
			return cfg, &ConfigError{Field: "fps", Reason: fmt.Sprintf("frame rate too high: %v", opts.FPS)}
		}
	}

	if opts.Loop != nil {
		cfg.Loop = *opts.Loop
	}
	if opts.AutoPlay != nil {
		cfg.AutoPlay = *opts.AutoPlay
	}

	mode, err := render.ParseMode(opts.RenderMode)
	if err != nil {
		return cfg, &ConfigError{Field: "renderMode", Reason: err.Error()}
	}
	cfg.RenderMode = mode

	if opts.Concurrency > 0 {
		cfg.Concurrency = opts.Concurrency
	}
	return cfg, nil
}

func fpsInterval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}
