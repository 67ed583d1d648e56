// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package responsive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/seqplay/internal/clock"
	"github.com/kortschak/seqplay/internal/playback"
	"github.com/kortschak/seqplay/internal/render"
	"github.com/kortschak/seqplay/internal/variant"
)

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeEnv is a controllable host environment.
type fakeEnv struct {
	interactive bool

	mu       sync.Mutex
	vp       variant.Viewport
	watchers map[int]func()
	next     int
}

func newEnv(interactive bool, width, height int) *fakeEnv {
	return &fakeEnv{
		interactive: interactive,
		vp:          variant.Viewport{Width: width, Height: height, Scale: 1},
		watchers:    make(map[int]func()),
	}
}

func (e *fakeEnv) Interactive() bool { return e.interactive }

func (e *fakeEnv) Viewport() variant.Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp
}

func (e *fakeEnv) Watch(fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.watchers[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

func (e *fakeEnv) attached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers)
}

// resize sets the viewport width and signals all watchers.
func (e *fakeEnv) resize(width int) {
	e.mu.Lock()
	e.vp.Width = width
	var fns []func()
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fixture struct {
	canvas *render.Canvas
	clock  *clock.Manual
	opts   Options

	engines  atomic.Int64
	mu       sync.Mutex
	errs     []error
	warnings []string
}

// newFixture returns a fixture with the given variants, each holding
// n frames.
func newFixture(t *testing.T, env Environment, n int, keys ...string) *fixture {
	t.Helper()
	f := &fixture{
		canvas: &render.Canvas{},
		clock:  clock.NewManual(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	data := pngData(t)
	fsys := make(fstest.MapFS)
	var variants []variant.Entry
	for _, k := range keys {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("%s%d", k, i)
			fsys[fmt.Sprintf("%s/%s.png", k, names[i])] = &fstest.MapFile{Data: data}
		}
		variants = append(variants, variant.Entry{Key: k, FrameNames: names, ResourcePath: "/" + k + "/"})
	}
	f.opts = Options{
		Variants: variants,
		Player: playback.Options{
			Mount:     f.canvas,
			Extension: "png",
			AutoPlay:  playback.Bool(false),
			Clock:     f.clock,
			FS:        fsys,
			OnWarning: func(err error) {
				f.mu.Lock()
				f.warnings = append(f.warnings, err.Error())
				f.mu.Unlock()
			},
		},
		Environment: env,
		Debounce:    20 * time.Millisecond,
		NewEngine: func(opts playback.Options, log *slog.Logger) (*playback.Engine, error) {
			f.engines.Add(1)
			return playback.New(opts, log)
		},
		OnError: func(err error) {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		},
	}
	return f
}

func (f *fixture) errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func (f *fixture) warns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.warnings...)
}

func newController(t *testing.T, opts Options) *Controller {
	t.Helper()
	c, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewConfigError(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 2, "desktop")

	t.Run("no_variants", func(t *testing.T) {
		opts := f.opts
		opts.Variants = nil
		_, err := New(context.Background(), opts)
		var cerr *playback.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigError, got: %v", err)
		}
	})
	t.Run("empty_frames", func(t *testing.T) {
		opts := f.opts
		opts.Variants = []variant.Entry{{Key: "desktop", FrameNames: []string{}}}
		_, err := New(context.Background(), opts)
		var cerr *playback.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigError, got: %v", err)
		}
	})
	t.Run("no_mount", func(t *testing.T) {
		opts := f.opts
		opts.Player.Mount = nil
		_, err := New(context.Background(), opts)
		var cerr *playback.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigError, got: %v", err)
		}
	})
	t.Run("bad_query", func(t *testing.T) {
		opts := f.opts
		opts.BreakpointQuery = "width <"
		_, err := New(context.Background(), opts)
		var cerr *playback.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigError, got: %v", err)
		}
		err = Validate(opts)
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigError from Validate, got: %v", err)
		}
	})
	t.Run("valid", func(t *testing.T) {
		err := Validate(f.opts)
		if err != nil {
			t.Fatalf("unexpected error validating options: %v", err)
		}
	})

	if got := f.engines.Load(); got != 0 {
		t.Errorf("unexpected engine constructions: %d", got)
	}
	if got := f.canvas.Stats(); got != (render.Stats{}) {
		t.Errorf("mount was mutated: %+v", got)
	}
}

func TestInitialMount(t *testing.T) {
	for _, test := range []struct {
		width int
		want  string
	}{
		{width: 1200, want: "desktop"},
		{width: 480, want: "mobile"},
	} {
		t.Run(test.want, func(t *testing.T) {
			f := newFixture(t, newEnv(true, test.width, 800), 2, "desktop", "mobile")
			c := newController(t, f.opts)
			if got := c.ActiveKey(); got != test.want {
				t.Errorf("unexpected active key: got:%q want:%q", got, test.want)
			}
			if c.Engine() == nil {
				t.Fatal("no engine after initial mount")
			}

			var got []string
			unsubscribe := c.OnVariantChange(func(ch Change) {
				got = append(got, ch.Key)
			})
			if !cmp.Equal(got, []string{test.want}) {
				t.Errorf("unexpected notification on subscribe: got:%v want:%v", got, []string{test.want})
			}
			unsubscribe()
			_, err := c.CycleVariant(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 {
				t.Errorf("unexpected notification after unsubscribe: %v", got)
			}
		})
	}
}

func TestBreakpointWidth(t *testing.T) {
	for _, test := range []struct {
		name  string
		query string
		width int
		want  string
	}{
		{name: "above", width: 700, want: "desktop"},
		{name: "at", width: 600, want: "mobile"},
		{name: "below", width: 500, want: "mobile"},
		{name: "query_wins", query: "width <= 1000", width: 700, want: "mobile"},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, newEnv(true, test.width, 800), 2, "desktop", "mobile")
			f.opts.BreakpointWidth = 600
			f.opts.BreakpointQuery = test.query
			c := newController(t, f.opts)
			if got := c.ActiveKey(); got != test.want {
				t.Errorf("unexpected active key: got:%q want:%q", got, test.want)
			}
		})
	}
}

func TestHeadless(t *testing.T) {
	f := newFixture(t, newEnv(false, 320, 640), 2, "mobile", "desktop")
	f.opts.ResponsiveSwitching = true
	c := newController(t, f.opts)
	if c.Engine() != nil || c.ActiveKey() != "" {
		t.Errorf("unexpected initial mount in headless environment: %q", c.ActiveKey())
	}
	if got := f.opts.Environment.(*fakeEnv).attached(); got != 0 {
		t.Errorf("unexpected watchers attached in headless environment: %d", got)
	}
	if got, want := c.VariantKeys(), []string{"mobile", "desktop"}; !cmp.Equal(got, want) {
		t.Errorf("unexpected variant keys:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}

	// Cycling from no active variant starts at the first key.
	ch, err := c.CycleVariant(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Key != "mobile" || ch.Engine == nil {
		t.Errorf("unexpected change: %+v", ch)
	}
}

func TestCycleVariant(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 10, "desktop", "mobile")
	c := newController(t, f.opts)
	if got := c.ActiveKey(); got != "desktop" {
		t.Fatalf("unexpected initial key: %q", got)
	}
	ctx := context.Background()
	var got []string
	for range 2 {
		ch, err := c.CycleVariant(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ch.Key)
	}
	want := []string{"mobile", "desktop"}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected cycle:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if n := c.Engine().Len(); n != 10 {
		t.Errorf("unexpected engine length: %d", n)
	}
}

func TestSerialization(t *testing.T) {
	const n = 10
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("v%d", i)
	}
	f := newFixture(t, newEnv(false, 0, 0), 2, keys...)

	var (
		mu      sync.Mutex
		running bool
		overlap bool
	)
	newEngine := f.opts.NewEngine
	f.opts.NewEngine = func(opts playback.Options, log *slog.Logger) (*playback.Engine, error) {
		mu.Lock()
		if running {
			overlap = true
		}
		running = true
		mu.Unlock()
		defer func() {
			mu.Lock()
			running = false
			mu.Unlock()
		}()
		time.Sleep(time.Millisecond)
		return newEngine(opts, log)
	}
	c := newController(t, f.opts)

	var notified []string
	c.OnVariantChange(func(ch Change) { notified = append(notified, ch.Key) })

	for i, k := range keys {
		c.Request(k, SwitchOptions{PreserveState: true})
		if i == n/2 {
			// Unknown keys are not enqueued.
			c.Request("unknown", SwitchOptions{})
		}
	}
	err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.engines.Load(); got != n {
		t.Errorf("unexpected number of swaps: got:%d want:%d", got, n)
	}
	if overlap {
		t.Error("swaps overlapped")
	}
	if !cmp.Equal(notified, keys) {
		t.Errorf("unexpected swap order:\n--- want:\n+++ got:\n%s", cmp.Diff(keys, notified))
	}
	if got := c.ActiveKey(); got != keys[n-1] {
		t.Errorf("unexpected final key: got:%q want:%q", got, keys[n-1])
	}
	if got := f.warns(); len(got) != 1 {
		t.Errorf("unexpected warnings: %v", got)
	}
}

func TestDebounce(t *testing.T) {
	env := newEnv(true, 1200, 800)
	f := newFixture(t, env, 2, "desktop", "mobile")
	f.opts.ResponsiveSwitching = true
	c := newController(t, f.opts)
	if got := c.ActiveKey(); got != "desktop" {
		t.Fatalf("unexpected initial key: %q", got)
	}
	if got := env.attached(); got != 1 {
		t.Fatalf("unexpected number of attached watchers: %d", got)
	}
	initial := f.engines.Load()

	for i := range 10 {
		env.resize(400 + i)
	}
	waitFor(t, func() bool { return c.ActiveKey() == "mobile" })
	time.Sleep(5 * f.opts.Debounce)
	err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.engines.Load() - initial; got != 1 {
		t.Errorf("unexpected number of swaps: got:%d want:1", got)
	}
}

func TestSetResponsiveSwitching(t *testing.T) {
	env := newEnv(true, 1200, 800)
	f := newFixture(t, env, 2, "desktop", "mobile")
	c := newController(t, f.opts)
	if got := env.attached(); got != 0 {
		t.Fatalf("unexpected watchers with switching disabled: %d", got)
	}

	// Signals are ignored while disabled.
	env.resize(400)
	time.Sleep(5 * f.opts.Debounce)
	if got := c.ActiveKey(); got != "desktop" {
		t.Errorf("unexpected switch while disabled: %q", got)
	}

	// Enabling re-evaluates the environment.
	c.SetResponsiveSwitching(true)
	c.SetResponsiveSwitching(true)
	if got := env.attached(); got != 1 {
		t.Errorf("unexpected number of watchers: got:%d want:1", got)
	}
	waitFor(t, func() bool { return c.ActiveKey() == "mobile" })

	// Disabling cancels a pending debounce and keeps the variant.
	env.resize(1200)
	c.SetResponsiveSwitching(false)
	c.SetResponsiveSwitching(false)
	if got := env.attached(); got != 0 {
		t.Errorf("unexpected watchers after disable: %d", got)
	}
	time.Sleep(5 * f.opts.Debounce)
	err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.ActiveKey(); got != "mobile" {
		t.Errorf("unexpected variant after disable: %q", got)
	}
}

func TestStatePreservation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		play     bool
		preserve bool
		want     playback.State
	}{
		{name: "playing", play: true, preserve: true, want: playback.State{Playing: true, Ready: true}},
		{name: "paused", play: false, preserve: true, want: playback.State{Ready: true}},
		{name: "not_preserved", play: true, preserve: false, want: playback.State{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, newEnv(true, 1200, 800), 4, "desktop", "mobile")
			c := newController(t, f.opts)
			prev := c.Engine()
			err := prev.Preload(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if test.play {
				err = prev.Play(ctx)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}

			ch, err := c.ForceVariant(ctx, "mobile", SwitchOptions{PreserveState: test.preserve})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ch.Key != "mobile" || ch.Engine != c.Engine() {
				t.Errorf("unexpected change: %+v", ch)
			}
			if got := ch.Engine.State(); got != test.want {
				t.Errorf("unexpected state: got:%+v want:%+v", got, test.want)
			}
			if got := prev.State(); got.Playing || got.Ready {
				t.Errorf("previous engine not disposed: %+v", got)
			}
			if f.clock.Pending() > 1 {
				t.Errorf("more than one engine scheduling ticks: %d", f.clock.Pending())
			}
		})
	}
}

func TestForceVariantNoop(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 2, "desktop", "mobile")
	c := newController(t, f.opts)
	before := c.Engine()
	initial := f.engines.Load()

	ch, err := c.ForceVariant(context.Background(), "desktop", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Engine != before || f.engines.Load() != initial {
		t.Error("switch to active variant replaced engine")
	}

	ch, err = c.ForceVariant(context.Background(), "tablet", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Engine != before || ch.Key != "desktop" {
		t.Errorf("unexpected change for unknown variant: %+v", ch)
	}
	if got := f.warns(); len(got) != 1 {
		t.Errorf("unexpected warnings: %v", got)
	}
}

func TestSwapFailure(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 2, "desktop", "mobile", "tablet")
	newEngine := f.opts.NewEngine
	f.opts.NewEngine = func(opts playback.Options, log *slog.Logger) (*playback.Engine, error) {
		if opts.ResourcePath == "/tablet/" {
			return nil, errors.New("no tablets")
		}
		return newEngine(opts, log)
	}
	c := newController(t, f.opts)

	ch, err := c.ForceVariant(context.Background(), "tablet", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Engine != nil || ch.Key != "" {
		t.Errorf("unexpected change after failed construction: %+v", ch)
	}
	if got := f.errors(); len(got) != 1 {
		t.Errorf("unexpected errors: %v", got)
	}

	// The queue continues after a failure.
	ch, err = c.ForceVariant(context.Background(), "mobile", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Key != "mobile" || ch.Engine == nil {
		t.Errorf("unexpected change after recovery: %+v", ch)
	}
}

func TestListenerPanic(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 2, "desktop", "mobile")
	c := newController(t, f.opts)
	c.OnVariantChange(func(Change) { panic("listener") })
	var got []string
	c.OnVariantChange(func(ch Change) { got = append(got, ch.Key) })

	_, err := c.ForceVariant(context.Background(), "mobile", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = c.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"desktop", "mobile"}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected notifications:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestListenerSwitches(t *testing.T) {
	f := newFixture(t, newEnv(true, 1200, 800), 2, "desktop", "mobile", "tablet")
	c, err := New(context.Background(), f.opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu   sync.Mutex
		got  []string
		errs []error
	)
	c.OnVariantChange(func(ch Change) {
		mu.Lock()
		got = append(got, ch.Key)
		mu.Unlock()
		if ch.Key != "mobile" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		next, err := c.ForceVariant(ctx, "tablet", SwitchOptions{})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		} else if next.Key != "tablet" {
			errs = append(errs, fmt.Errorf("unexpected switch from listener: %+v", next))
		}
	})

	_, err = c.ForceVariant(context.Background(), "mobile", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return c.ActiveKey() == "tablet" })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = c.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error waiting for notifications: %v", err)
	}

	mu.Lock()
	want := []string{"desktop", "mobile", "tablet"}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected notifications:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	for _, err := range errs {
		t.Errorf("switch from listener failed: %v", err)
	}
	mu.Unlock()

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err = <-closed:
		if err != nil {
			t.Errorf("unexpected error closing: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestClose(t *testing.T) {
	env := newEnv(true, 1200, 800)
	f := newFixture(t, env, 2, "desktop", "mobile")
	f.opts.ResponsiveSwitching = true
	c, err := New(context.Background(), f.opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eng := c.Engine()
	err = c.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.attached() != 0 {
		t.Error("watchers still attached after close")
	}
	if c.Engine() != nil {
		t.Error("engine still active after close")
	}
	if got := eng.State(); got.Ready || got.Playing {
		t.Errorf("engine not disposed: %+v", got)
	}
	ch, err := c.ForceVariant(context.Background(), "mobile", SwitchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Engine != nil {
		t.Errorf("switch performed after close: %+v", ch)
	}
	if err := c.Close(); err != nil {
		t.Errorf("unexpected error from second close: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
