// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The seqvet command checks a seqplay configuration file, reports the
// variant that would be selected for a viewport, and optionally preloads
// every variant's frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kortschak/seqplay/internal/config"
	"github.com/kortschak/seqplay/internal/playback"
	"github.com/kortschak/seqplay/internal/render"
	"github.com/kortschak/seqplay/internal/responsive"
	"github.com/kortschak/seqplay/internal/slogext"
	"github.com/kortschak/seqplay/internal/variant"
	"github.com/kortschak/seqplay/internal/version"
)

func main() {
	os.Exit(Main())
}

// Main is the seqvet entry point. It returns the process exit status.
func Main() int {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	cfgPath := flags.String("config", "", "configuration file (required)")
	width := flags.Int("width", 0, "viewport width for variant detection (0 for headless)")
	height := flags.Int("height", 0, "viewport height for variant detection")
	doPreload := flags.Bool("preload", false, "preload the frames of every variant")
	base := flags.String("base", "", "base URL for frame addresses (overrides the configuration)")
	logging := flags.String("log", "warn", "logging level (debug, info, warn or error)")
	lines := flags.Bool("lines", false, "display source line details in logs")
	v := flags.Bool("version", false, "print version and exit")
	err := flags.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *v {
		err := version.Fprint(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	if *cfgPath == "" {
		flags.Usage()
		return 2
	}

	var level slog.LevelVar
	err = level.UnmarshalText([]byte(*logging))
	if err != nil {
		flags.Usage()
		return 2
	}
	log := slogext.NewLogger(os.Stderr, &level, slogext.NewAtomicBool(*lines))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	err = vet(ctx, os.Stdout, vetOptions{
		path:     *cfgPath,
		viewport: variant.Viewport{Width: *width, Height: *height, Scale: 1},
		preload:  *doPreload,
		base:     *base,
	}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type vetOptions struct {
	path     string
	viewport variant.Viewport
	preload  bool
	base     string
}

// env is a fixed viewport environment. It is interactive when it has a
// width.
type env struct {
	vp variant.Viewport
}

func (e env) Interactive() bool { return e.vp.Width > 0 }

func (e env) Viewport() variant.Viewport { return e.vp }

func (e env) Watch(func()) (cancel func()) { return func() {} }

func vet(ctx context.Context, w io.Writer, opts vetOptions, log *slog.Logger) error {
	f, err := config.Load(opts.path)
	if err != nil {
		var verr *config.VetError
		if errors.As(err, &verr) {
			for _, p := range verr.Paths {
				fmt.Fprintf(w, "invalid: %s\n", strings.Join(p, "."))
			}
		}
		return err
	}
	fmt.Fprintf(w, "sum: %s\n", f.Sum)

	ropts, err := config.Options(f)
	if err != nil {
		return err
	}
	if opts.base != "" {
		u, err := url.Parse(opts.base)
		if err != nil {
			return fmt.Errorf("invalid base: %w", err)
		}
		ropts.Player.Base = u
	}
	canvas := &render.Canvas{Size: image.Point{X: opts.viewport.Width, Y: opts.viewport.Height}, DeviceScale: 1}
	ropts.Player.Mount = canvas
	ropts.Player.AutoPlay = playback.Bool(false)
	ropts.Player.FS = os.DirFS(filepath.Dir(opts.path))
	ropts.Player.Client = &http.Client{Timeout: time.Minute}
	ropts.Player.OnWarning = func(err error) { fmt.Fprintf(w, "warning: %v\n", err) }
	ropts.Environment = env{vp: opts.viewport}
	ropts.Log = log

	err = responsive.Validate(ropts)
	if err != nil {
		return err
	}
	ctrl, err := responsive.New(ctx, ropts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	keys := ctrl.VariantKeys()
	fmt.Fprintf(w, "variants: %s\n", strings.Join(keys, " "))
	if key := ctrl.ActiveKey(); key != "" {
		fmt.Fprintf(w, "detected: %s\n", key)
	} else {
		fmt.Fprintln(w, "detected: none (headless)")
	}
	if !opts.preload {
		return nil
	}

	var errs []error
	for _, k := range keys {
		c, err := ctrl.ForceVariant(ctx, k, responsive.SwitchOptions{})
		if err != nil {
			return err
		}
		if c.Key != k || c.Engine == nil {
			errs = append(errs, fmt.Errorf("preload %s: variant not mounted", k))
			continue
		}
		start := time.Now()
		err = c.Engine.Preload(ctx)
		if err != nil {
			fmt.Fprintf(w, "preload %s: failed\n", k)
			errs = append(errs, fmt.Errorf("preload %s: %w", k, err))
			continue
		}
		size := canvas.Stats().Intrinsic
		fmt.Fprintf(w, "preload %s: %d frames %dx%d\n", k, c.Engine.Len(), size.X, size.Y)
		log.LogAttrs(ctx, slog.LevelInfo, "preloaded", slog.String("variant", k), slog.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}
