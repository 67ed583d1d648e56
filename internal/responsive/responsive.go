// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package responsive provides a controller that swaps playback engines
// between image set variants in response to viewport changes.
package responsive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/seqplay/internal/playback"
	"github.com/kortschak/seqplay/internal/queue"
	"github.com/kortschak/seqplay/internal/variant"
)

// DefaultDebounce is the default quiet period before environment
// changes are acted on.
const DefaultDebounce = 150 * time.Millisecond

// Environment is a host environment that can report changes to its
// viewport.
type Environment interface {
	variant.Environment
	// Watch registers fn to be called when the viewport may have
	// changed. The returned function unregisters fn.
	Watch(fn func()) (cancel func())
}

// Options holds the construction options for a Controller.
type Options struct {
	// Variants is the ordered set of image set variants.
	Variants []variant.Entry
	// Player is the base engine configuration. Each variant's
	// frame names and resource path are merged into it.
	Player playback.Options

	// ResponsiveSwitching enables switching variants in response
	// to environment changes.
	ResponsiveSwitching bool
	// BreakpointQuery is the CEL breakpoint query. If empty, the
	// query is variant.WidthQuery(BreakpointWidth).
	BreakpointQuery string
	// BreakpointWidth is the largest width considered mobile when
	// there is no query or the query cannot be evaluated. Zero uses
	// variant.DefaultBreakpointWidth.
	BreakpointWidth int
	// Debounce is the quiet period before environment changes are
	// acted on. Zero uses DefaultDebounce.
	Debounce time.Duration

	// Environment is the host environment. A nil Environment is
	// treated as non-interactive.
	Environment Environment

	// NewEngine constructs engines. If nil, playback.New is used.
	NewEngine func(playback.Options, *slog.Logger) (*playback.Engine, error)

	// OnError is called with each contained variant switch failure.
	OnError func(error)

	Log *slog.Logger
}

// Change is the outcome of a variant switch.
type Change struct {
	Engine *playback.Engine
	Key    string
}

// SwitchOptions control a variant switch.
type SwitchOptions struct {
	// PreserveState carries the ready and playing state of the
	// previous engine over to the new engine.
	PreserveState bool
}

// Controller manages the active playback engine for a set of variants.
// At most one engine is live at a time and switches are performed
// strictly in request order.
type Controller struct {
	registry  *variant.Registry
	detector  variant.Detector
	base      playback.Options
	env       Environment
	debounce  time.Duration
	newEngine func(playback.Options, *slog.Logger) (*playback.Engine, error)
	onError   func(error)
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue queue.Queue[Change]
	// events delivers change notifications in
	// switch order, outside the switch queue.
	events queue.Queue[struct{}]

	mu         sync.Mutex
	engine     *playback.Engine
	key        string
	listeners  []listener
	nextID     uint64
	responsive bool
	unwatch    func()
	timerGen   uint64
	timer      *time.Timer
	closed     bool
}

type listener struct {
	id uint64
	fn func(Change)
}

// New returns a new Controller. If the environment is interactive, the
// detected variant is mounted before New returns. Invalid options result
// in a *playback.ConfigError and no engine is constructed.
func New(ctx context.Context, opts Options) (*Controller, error) {
	reg, query, err := validate(opts)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "responsive"))
	c := &Controller{
		registry: reg,
		detector: variant.Detector{
			Registry:        reg,
			Query:           query,
			BreakpointWidth: opts.BreakpointWidth,
			Log:             log,
		},
		base:       opts.Player,
		env:        opts.Environment,
		debounce:   opts.Debounce,
		newEngine:  opts.NewEngine,
		onError:    opts.OnError,
		log:        log,
		responsive: opts.ResponsiveSwitching,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.newEngine == nil {
		c.newEngine = playback.New
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if !c.interactive() {
		log.LogAttrs(ctx, slog.LevelDebug, "non-interactive environment", slog.String("fallback", reg.Fallback()))
		return c, nil
	}
	c.mu.Lock()
	initial := c.enqueueLocked(c.detector.Detect(c.env), SwitchOptions{})
	if c.responsive {
		c.attachLocked()
	}
	c.mu.Unlock()
	_, err = initial.Wait(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Validate checks opts without constructing a Controller. It returns the
// error New would return for invalid options.
func Validate(opts Options) error {
	_, _, err := validate(opts)
	return err
}

func validate(opts Options) (*variant.Registry, *variant.Query, error) {
	reg, err := variant.NewRegistry(opts.Variants)
	if err != nil {
		return nil, nil, err
	}
	src := opts.BreakpointQuery
	if src == "" {
		src = variant.WidthQuery(opts.BreakpointWidth)
	}
	query, err := variant.CompileQuery(src, opts.Log)
	if err != nil {
		return nil, nil, &playback.ConfigError{Field: "breakpointQuery", Reason: err.Error()}
	}
	for _, k := range reg.Keys() {
		e, _ := reg.Lookup(k)
		_, err = playback.Resolve(merge(opts.Player, e, SwitchOptions{}))
		if err != nil {
			return nil, nil, fmt.Errorf("variant %s: %w", k, err)
		}
	}
	return reg, query, nil
}

// merge returns the base options with the variant's frame set applied.
func merge(base playback.Options, e variant.Entry, so SwitchOptions) playback.Options {
	opts := base
	opts.FrameNames = e.FrameNames
	if e.ResourcePath != "" {
		opts.ResourcePath = e.ResourcePath
	}
	if so.PreserveState {
		opts.AutoPlay = playback.Bool(false)
	}
	return opts
}

func (c *Controller) interactive() bool {
	return c.env != nil && c.env.Interactive()
}

// Engine returns the active engine. It is nil if no variant is active.
func (c *Controller) Engine() *playback.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// ActiveKey returns the active variant key. It is empty if no variant is
// active.
func (c *Controller) ActiveKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// VariantKeys returns the variant keys in order.
func (c *Controller) VariantKeys() []string {
	return c.registry.Keys()
}

// OnVariantChange registers fn to be called with each completed switch.
// If a variant is active, fn is called immediately with it. Later
// changes are delivered in switch order on a goroutine separate from
// the switch queue, so fn may request further switches and wait for
// them. fn must not call Wait. The returned function unregisters fn.
func (c *Controller) OnVariantChange(fn func(Change)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	cur := c.currentLocked()
	c.mu.Unlock()
	if cur.Key != "" {
		c.call(fn, cur)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify schedules delivery of ch to the currently registered listeners.
func (c *Controller) notify(ch Change) {
	c.mu.Lock()
	listeners := c.listeners
	c.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	c.events.Enqueue(
		func() (struct{}, error) {
			for _, l := range listeners {
				c.call(l.fn, ch)
			}
			return struct{}{}, nil
		},
		func(error) struct{} { return struct{}{} },
	)
}

// call calls fn with ch, containing any panic.
func (c *Controller) call(fn func(Change), ch Change) {
	defer func() {
		if r := recover(); r != nil {
			c.log.LogAttrs(c.ctx, slog.LevelError, "variant listener panicked", slog.Any("panic", r))
		}
	}()
	fn(ch)
}

func (c *Controller) currentLocked() Change {
	return Change{Engine: c.engine, Key: c.key}
}

func (c *Controller) current() Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// SetResponsiveSwitching enables or disables switching variants in
// response to environment changes. Enabling schedules a re-evaluation of
// the environment. Disabling cancels any pending re-evaluation and leaves
// the active variant unchanged.
func (c *Controller) SetResponsiveSwitching(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || enabled == c.responsive {
		return
	}
	c.responsive = enabled
	if enabled {
		c.attachLocked()
		c.scheduleLocked()
	} else {
		c.detachLocked()
	}
	c.log.LogAttrs(c.ctx, slog.LevelInfo, "responsive switching", slog.Bool("enabled", enabled))
}

// attachLocked registers the environment watcher. It is idempotent.
// c.mu must be held.
func (c *Controller) attachLocked() {
	if c.unwatch != nil || !c.interactive() {
		return
	}
	c.unwatch = c.env.Watch(c.signal)
}

// detachLocked unregisters the environment watcher and cancels any pending
// debounce. It is safe to call when not attached. c.mu must be held.
func (c *Controller) detachLocked() {
	c.stopTimerLocked()
	if c.unwatch == nil {
		return
	}
	c.unwatch()
	c.unwatch = nil
}

func (c *Controller) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// signal is called by the environment on each change.
func (c *Controller) signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked()
}

// scheduleLocked restarts the debounce timer. c.mu must be held.
func (c *Controller) scheduleLocked() {
	if c.closed || !c.responsive || !c.interactive() {
		return
	}
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = time.AfterFunc(c.debounce, func() { c.settle(gen) })
}

// settle runs detection after a debounce period and enqueues a switch if
// the detected variant differs from the active one.
func (c *Controller) settle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.timerGen || c.closed || !c.responsive {
		return
	}
	c.timer = nil
	key := c.detector.Detect(c.env)
	if key == c.key {
		return
	}
	c.log.LogAttrs(c.ctx, slog.LevelDebug, "environment change", slog.String("from", c.key), slog.String("to", key))
	c.enqueueLocked(key, SwitchOptions{PreserveState: true})
}

// Request enqueues a switch to the variant key and returns its pending
// outcome. Requests for unknown keys are not enqueued and resolve
// immediately to the current state with a warning.
func (c *Controller) Request(key string, opts SwitchOptions) *queue.Pending[Change] {
	if !c.registry.Has(key) {
		c.warn("forceVariant", fmt.Sprintf("unknown variant %q", key))
		return queue.Resolved(c.current())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return queue.Resolved(c.currentLocked())
	}
	return c.enqueueLocked(key, opts)
}

// ForceVariant switches to the variant key and waits for the outcome. The
// returned error is non-nil only if ctx is done before the switch
// completes. Failed switches are reported to the OnError option and
// result in the current state.
func (c *Controller) ForceVariant(ctx context.Context, key string, opts SwitchOptions) (Change, error) {
	return c.Request(key, opts).Wait(ctx)
}

// CycleVariant switches to the variant following the active variant,
// preserving playback state.
func (c *Controller) CycleVariant(ctx context.Context) (Change, error) {
	return c.ForceVariant(ctx, c.registry.Next(c.ActiveKey()), SwitchOptions{PreserveState: true})
}

// Wait waits for all enqueued switches to complete and for their
// notifications to be delivered.
func (c *Controller) Wait(ctx context.Context) error {
	err := c.queue.Wait(ctx)
	if err != nil {
		return err
	}
	return c.events.Wait(ctx)
}

// enqueueLocked enqueues a switch. c.mu must be held.
func (c *Controller) enqueueLocked(key string, opts SwitchOptions) *queue.Pending[Change] {
	return c.queue.Enqueue(
		func() (Change, error) {
			return c.mount(c.ctx, key, opts)
		},
		func(err error) Change {
			c.reportError(key, err)
			cur := c.current()
			if cur.Key != "" {
				c.notify(cur)
			}
			return cur
		},
	)
}

// mount replaces the active engine with one for the variant key.
func (c *Controller) mount(ctx context.Context, key string, so SwitchOptions) (Change, error) {
	c.mu.Lock()
	if c.closed || (key == c.key && c.engine != nil) {
		defer c.mu.Unlock()
		return c.currentLocked(), nil
	}
	prev, prevKey := c.engine, c.key
	c.mu.Unlock()

	entry, ok := c.registry.Lookup(key)
	if !ok {
		c.warn("mountVariant", fmt.Sprintf("unknown variant %q", key))
		return c.current(), nil
	}

	opts := merge(c.base, entry, so)
	_, err := playback.Resolve(opts)
	if err != nil {
		return Change{}, err
	}

	var was playback.State
	if so.PreserveState && prev != nil {
		was = prev.State()
	}
	if prev != nil {
		err = prev.Dispose()
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelWarn, "failed to dispose engine", slog.String("variant", prevKey), slog.Any("error", err))
		}
		c.mu.Lock()
		c.engine, c.key = nil, ""
		c.mu.Unlock()
	}

	eng, err := c.newEngine(opts, c.log)
	if err != nil {
		return Change{}, fmt.Errorf("construct engine for %s: %w", key, err)
	}
	if was.Ready {
		err = eng.Preload(ctx)
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelError, "failed to preload new engine", slog.String("variant", key), slog.Any("error", err))
		}
	}
	if was.Playing {
		err = eng.Play(ctx)
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelError, "failed to resume playback", slog.String("variant", key), slog.Any("error", err))
		}
	}

	ch := Change{Engine: eng, Key: key}
	c.mu.Lock()
	c.engine, c.key = eng, key
	c.mu.Unlock()
	c.log.LogAttrs(ctx, slog.LevelInfo, "variant mounted", slog.String("variant", key), slog.String("previous", prevKey), slog.Bool("ready", was.Ready), slog.Bool("playing", was.Playing))
	c.notify(ch)
	return ch, nil
}

func (c *Controller) reportError(key string, err error) {
	c.log.LogAttrs(c.ctx, slog.LevelError, "variant switch failed", slog.String("variant", key), slog.Any("error", err))
	if c.onError != nil {
		c.onError(err)
	}
}

// warn reports a soft condition to the player's warning hook.
func (c *Controller) warn(op, reason string) {
	c.log.LogAttrs(c.ctx, slog.LevelWarn, "variant warning", slog.String("op", op), slog.String("reason", reason))
	if c.base.OnWarning != nil {
		c.base.OnWarning(&playback.Warning{Op: op, Reason: reason})
	}
}

// Close detaches from the environment, waits for pending switches and
// disposes the active engine. Notifications of completed switches may
// still be delivered after Close returns. The Controller must not be used after
// Close.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.detachLocked()
	c.mu.Unlock()

	c.cancel()
	err := c.queue.Wait(context.Background())

	c.mu.Lock()
	eng := c.engine
	c.engine = nil
	c.mu.Unlock()
	if eng != nil {
		err = errors.Join(err, eng.Dispose())
	}
	return err
}
