// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kortschak/seqplay/internal/clock"
	"github.com/kortschak/seqplay/internal/config"
	"github.com/kortschak/seqplay/internal/playback"
	"github.com/kortschak/seqplay/internal/render"
	"github.com/kortschak/seqplay/internal/responsive"
	"github.com/kortschak/seqplay/internal/slogext"
)

// host is the window the viewer renders into.
type host interface {
	render.Mount
	clock.Clock
	responsive.Environment
	SetMessage(string)
}

// viewer owns the responsive controller built from the current
// configuration and implements the viewer's key actions.
type viewer struct {
	host   host
	fs     fs.FS
	client *http.Client

	log       *slog.Logger
	level     *slog.LevelVar
	addSource *atomic.Bool

	mu         sync.Mutex
	ctrl       *responsive.Controller
	responsive bool
}

func newViewer(h host, fsys fs.FS, client *http.Client, log *slog.Logger, level *slog.LevelVar, addSource *atomic.Bool) *viewer {
	return &viewer{
		host:      h,
		fs:        fsys,
		client:    client,
		log:       log,
		level:     level,
		addSource: addSource,
	}
}

// apply replaces the viewer's controller with one built from f. If the
// configuration is invalid, the current controller is retained.
func (v *viewer) apply(ctx context.Context, f *config.File) error {
	if f.LogLevel != nil {
		v.level.Set(*f.LogLevel)
	}
	if f.AddSource != nil {
		v.addSource.Store(*f.AddSource)
	}

	opts, err := config.Options(f)
	if err != nil {
		return err
	}
	opts.Player.Mount = v.host
	opts.Player.Clock = v.host
	opts.Player.Client = v.client
	opts.Player.FS = v.fs
	opts.Player.OnWarning = func(err error) { v.host.SetMessage(err.Error()) }
	opts.Environment = v.host
	opts.OnError = func(err error) { v.host.SetMessage(err.Error()) }
	opts.Log = v.log
	err = responsive.Validate(opts)
	if err != nil {
		return err
	}

	v.mu.Lock()
	old := v.ctrl
	v.ctrl = nil
	v.mu.Unlock()
	if old != nil {
		err := old.Close()
		if err != nil {
			v.log.LogAttrs(ctx, slog.LevelWarn, "close controller", slog.Any("error", err))
		}
	}

	ctrl, err := responsive.New(ctx, opts)
	if err != nil {
		return err
	}
	ctrl.OnVariantChange(func(c responsive.Change) {
		var cfg playback.Config
		if c.Engine != nil {
			cfg = c.Engine.Config()
		}
		v.log.LogAttrs(ctx, slog.LevelInfo, "active variant",
			slog.String("key", c.Key),
			slog.Any("interval", slogext.Stringer{Stringer: cfg.Interval}),
			slog.Any("mode", slogext.Stringer{Stringer: cfg.RenderMode}),
		)
	})

	v.mu.Lock()
	v.ctrl = ctrl
	v.responsive = opts.ResponsiveSwitching
	v.mu.Unlock()
	v.host.SetMessage("")
	return nil
}

// controller returns the current controller, which may be nil.
func (v *viewer) controller() *responsive.Controller {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctrl
}

// engine returns the active engine, which may be nil.
func (v *viewer) engine() *playback.Engine {
	ctrl := v.controller()
	if ctrl == nil {
		return nil
	}
	return ctrl.Engine()
}

func (v *viewer) preload(ctx context.Context) {
	if e := v.engine(); e != nil {
		v.report(ctx, "preload", e.Preload(ctx))
	}
}

func (v *viewer) togglePlay(ctx context.Context) {
	e := v.engine()
	if e == nil {
		return
	}
	if e.State().Playing {
		e.Pause()
		return
	}
	v.report(ctx, "play", e.Play(ctx))
}

func (v *viewer) stop() {
	if e := v.engine(); e != nil {
		e.Stop()
	}
}

func (v *viewer) cycle(ctx context.Context) {
	if ctrl := v.controller(); ctrl != nil {
		_, err := ctrl.CycleVariant(ctx)
		v.report(ctx, "cycle variant", err)
	}
}

func (v *viewer) toggleResponsive(ctx context.Context) {
	v.mu.Lock()
	ctrl := v.ctrl
	if ctrl == nil {
		v.mu.Unlock()
		return
	}
	v.responsive = !v.responsive
	enabled := v.responsive
	v.mu.Unlock()
	ctrl.SetResponsiveSwitching(enabled)
	v.log.LogAttrs(ctx, slog.LevelInfo, "responsive switching", slog.Bool("enabled", enabled))
}

// speed scales the active engine's frame interval by factor.
func (v *viewer) speed(factor float64) {
	e := v.engine()
	if e == nil {
		return
	}
	d := time.Duration(float64(e.Config().Interval) * factor)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	e.SetSpeed(d)
}

func (v *viewer) report(ctx context.Context, op string, err error) {
	if err == nil || errors.Is(err, playback.ErrDisposed) || errors.Is(err, context.Canceled) {
		return
	}
	v.log.LogAttrs(ctx, slog.LevelWarn, op, slog.Any("error", err))
	v.host.SetMessage(err.Error())
}

func (v *viewer) close() error {
	v.mu.Lock()
	ctrl := v.ctrl
	v.ctrl = nil
	v.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.Close()
}
