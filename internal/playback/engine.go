// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package playback implements image sequence playback.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kortschak/seqplay/internal/clock"
	"github.com/kortschak/seqplay/internal/frame"
	"github.com/kortschak/seqplay/internal/preload"
	"github.com/kortschak/seqplay/internal/render"
)

// Engine plays an ordered set of frames onto a mount.
type Engine struct {
	cfg       Config
	surface   *render.Surface
	clock     clock.Clock
	pipeline  *preload.Pipeline
	onWarning func(error)
	log       *slog.Logger

	// ctx is the lifetime of the engine. It is
	// cancelled by Dispose.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	interval time.Duration
	loop     bool
	index    int
	playing  bool
	disposed bool

	// gen is incremented each time a scheduling
	// sequence is started or ended. Ticks from an
	// earlier generation are ignored.
	gen        uint64
	cancelTick func()
	last       time.Time
	acc        time.Duration
}

// State is a snapshot of an Engine's playback state.
type State struct {
	Index   int
	Playing bool
	Ready   bool
}

// New returns a new Engine. If the options are invalid, New returns a
// *ConfigError and the mount is not touched. If the resolved
// configuration has autoplay enabled, the engine begins preloading and
// playing immediately.
func New(opts Options, log *slog.Logger) (*Engine, error) {
	cfg, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "playback"))

	e := &Engine{
		cfg:       cfg,
		surface:   render.NewSurface(opts.Mount, cfg.RenderMode),
		clock:     opts.Clock,
		onWarning: opts.OnWarning,
		log:       log,
		interval:  cfg.Interval,
		loop:      cfg.Loop,
	}
	if e.clock == nil {
		e.clock = clock.Timer{}
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	loader := &frame.Loader{
		ResourcePath: cfg.ResourcePath,
		Extension:    cfg.Extension,
		Base:         opts.Base,
		Client:       opts.Client,
		FS:           opts.FS,
		Element:      cfg.RenderMode == render.ModeElement,
		Log:          log,
	}
	if up, ok := opts.Mount.(render.Uploader); ok {
		loader.Upload = up.Upload
	}
	e.pipeline = preload.New(e.ctx, loader, cfg.FrameNames, cfg.Concurrency, e.establish, log)

	if cfg.AutoPlay {
		go func() {
			err := e.Play(e.ctx)
			if err != nil && !errors.Is(err, ErrDisposed) && !errors.Is(err, context.Canceled) {
				e.log.LogAttrs(e.ctx, slog.LevelError, "autoplay failed", slog.Any("error", err))
			}
		}()
	}
	return e, nil
}

// establish fixes the surface dimensions from the first loaded frame.
func (e *Engine) establish(frames []*frame.Frame) {
	if len(frames) == 0 || frames[0] == nil || frames[0].Image == nil {
		return
	}
	if e.isDisposed() {
		return
	}
	e.surface.Establish(frames[0].Image)
}

// Preload loads all frames. It is idempotent and concurrent calls share
// a single load. On success the current frame is drawn.
func (e *Engine) Preload(ctx context.Context) error {
	if e.isDisposed() {
		return ErrDisposed
	}
	wasReady := e.pipeline.Ready()
	err := e.pipeline.Preload(ctx)
	if err != nil {
		if errors.Is(err, preload.ErrReleased) || e.isDisposed() {
			return ErrDisposed
		}
		return err
	}
	if wasReady {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if !e.playing {
		e.drawLocked(e.index)
	}
	return nil
}

// Play starts playback from the current frame, preloading if necessary.
// Play returns when playback has started. It is a no-op if the engine is
// already playing.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	disposed, playing := e.disposed, e.playing
	e.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if playing {
		return nil
	}

	err := e.Preload(ctx)
	if err != nil {
		return err
	}
	if len(e.pipeline.Frames()) == 0 {
		e.warn(ctx, "play", "no frames to play")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.playing {
		return nil
	}
	e.playing = true
	e.gen++
	e.last = e.clock.Now()
	e.acc = 0
	e.drawLocked(e.index)
	e.scheduleLocked(e.gen)
	e.log.LogAttrs(ctx, slog.LevelDebug, "play", slog.Int("index", e.index), slog.Duration("interval", e.interval))
	return nil
}

// scheduleLocked requests the next tick for generation gen.
// e.mu must be held.
func (e *Engine) scheduleLocked(gen uint64) {
	e.cancelTick = e.clock.Request(func(now time.Time) {
		e.tick(gen, now)
	})
}

// tick advances playback according to the time elapsed since the last
// tick, or since playback started for the first tick. Whole intervals of accumulated time each advance one frame and
// only the final frame is drawn.
func (e *Engine) tick(gen uint64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || !e.playing || gen != e.gen {
		return
	}
	if d := now.Sub(e.last); d > 0 {
		e.acc += d
	}
	e.last = now

	n := len(e.pipeline.Frames())
	moved := false
	for e.acc >= e.interval {
		e.acc -= e.interval
		if !e.advanceLocked(n) {
			if moved {
				e.drawLocked(e.index)
			}
			e.log.LogAttrs(e.ctx, slog.LevelDebug, "playback complete", slog.Int("index", e.index))
			return
		}
		moved = true
	}
	if moved {
		e.drawLocked(e.index)
	}
	e.scheduleLocked(gen)
}

// advanceLocked moves to the next frame of n. It reports whether playback
// continues. e.mu must be held.
func (e *Engine) advanceLocked(n int) bool {
	if n == 0 {
		e.stopTickingLocked()
		return false
	}
	next := e.index + 1
	if next >= n {
		if !e.loop {
			e.stopTickingLocked()
			return false
		}
		next = 0
	}
	e.index = next
	return true
}

// stopTickingLocked ends the current scheduling sequence.
// e.mu must be held.
func (e *Engine) stopTickingLocked() {
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
	e.playing = false
	e.gen++
}

// drawLocked draws frame i. e.mu must be held.
func (e *Engine) drawLocked(i int) {
	err := e.surface.Draw(e.pipeline.Frames(), i)
	if err != nil {
		e.log.LogAttrs(e.ctx, slog.LevelError, "draw failed", slog.Int("index", i), slog.Any("error", err))
	}
}

// Pause stops playback, keeping the current frame.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return
	}
	e.stopTickingLocked()
}

// Stop stops playback and returns to the first frame. If the frames are
// not loaded, the mount is cleared.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	if e.playing {
		e.stopTickingLocked()
	}
	e.index = 0
	if e.pipeline.Ready() && len(e.pipeline.Frames()) != 0 {
		e.drawLocked(0)
		return
	}
	err := e.surface.Clear()
	if err != nil {
		e.log.LogAttrs(e.ctx, slog.LevelError, "clear failed", slog.Any("error", err))
	}
}

// SetSpeed sets the frame interval. It takes effect at the next tick.
// Non-positive intervals are ignored with a warning.
func (e *Engine) SetSpeed(interval time.Duration) {
	if interval <= 0 {
		e.warn(e.ctx, "setSpeed", "interval must be positive")
		return
	}
	e.mu.Lock()
	e.interval = interval
	e.mu.Unlock()
}

// SetFPS sets the frame interval from a frame rate. Non-positive or
// non-finite rates are ignored with a warning.
func (e *Engine) SetFPS(fps float64) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) || fpsInterval(fps) <= 0 {
		e.warn(e.ctx, "setFps", "frame rate must be positive and finite")
		return
	}
	e.SetSpeed(fpsInterval(fps))
}

// SetLoop sets whether playback wraps at the end of the sequence.
func (e *Engine) SetLoop(loop bool) {
	e.mu.Lock()
	e.loop = loop
	e.mu.Unlock()
}

// Dispose stops playback, releases all frames and clears the mount. The
// engine must not be used after Dispose; further calls are no-ops.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	if e.playing {
		e.stopTickingLocked()
	}
	e.disposed = true
	e.mu.Unlock()

	e.cancel()
	e.pipeline.Release()
	err := e.surface.Clear()
	e.log.LogAttrs(context.Background(), slog.LevelDebug, "disposed")
	return err
}

func (e *Engine) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Index:   e.index,
		Playing: e.playing,
		Ready:   !e.disposed && e.pipeline.Ready(),
	}
}

// Config returns the engine's current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Interval = e.interval
	cfg.Loop = e.loop
	return cfg
}

// Len returns the number of frames in the sequence.
func (e *Engine) Len() int {
	return len(e.cfg.FrameNames)
}

func (e *Engine) warn(ctx context.Context, op, reason string) {
	w := &Warning{Op: op, Reason: reason}
	e.log.LogAttrs(ctx, slog.LevelWarn, "playback warning", slog.String("op", op), slog.String("reason", reason))
	if e.onWarning != nil {
		e.onWarning(w)
	}
}
