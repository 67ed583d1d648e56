// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ebitenhost provides an ebiten window that hosts playback engines.
// A Host is a render.Mount, a clock.Clock and a responsive.Environment.
package ebitenhost

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/seqplay/internal/render"
	"github.com/kortschak/seqplay/internal/text"
	"github.com/kortschak/seqplay/internal/variant"
)

// Host is an ebiten game that presents frames drawn by a playback engine.
// Clock callbacks are run at the start of each Update.
type Host struct {
	log *slog.Logger

	// deviceScale returns the device scale factor of the
	// window's monitor.
	deviceScale func() float64

	mu        sync.Mutex
	size      image.Point
	scale     float64
	intrinsic image.Point

	// current is the presented image. If it is an uploaded
	// image, its texture is held in textures, otherwise its
	// pixels have been copied to pixels.
	current  image.Image
	textures map[image.Image]*ebiten.Image
	pixels   *image.RGBA
	dirty    bool
	backing  *ebiten.Image

	message string
	overlay *ebiten.Image
	stale   bool

	callbacks []callback
	nextID    uint64

	watchers    map[uint64]func()
	nextWatcher uint64

	keys map[ebiten.Key]func()
	quit bool
}

type callback struct {
	id uint64
	fn func(time.Time)
}

var (
	_ render.Mount        = (*Host)(nil)
	_ render.Uploader     = (*Host)(nil)
	_ render.Sizer        = (*Host)(nil)
	_ variant.Environment = (*Host)(nil)
	_ ebiten.Game         = (*Host)(nil)
)

// New returns a new Host with the given initial logical size.
func New(size image.Point, log *slog.Logger) *Host {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Host{
		log:         log.With(slog.String("component", "ebitenhost")),
		deviceScale: func() float64 { return ebiten.Monitor().DeviceScaleFactor() },
		size:        size,
		scale:       1,
		textures:    make(map[image.Image]*ebiten.Image),
		watchers:    make(map[uint64]func()),
		keys:        make(map[ebiten.Key]func()),
	}
}

// Bind binds fn to key. fn is called from Update when key is pressed, and
// so must not block.
func (h *Host) Bind(key ebiten.Key, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.keys, key)
		return
	}
	h.keys[key] = fn
}

// Quit causes the game loop to terminate at the next Update.
func (h *Host) Quit() {
	h.mu.Lock()
	h.quit = true
	h.mu.Unlock()
}

// SetMessage sets a message to be drawn over the presented frame. An empty
// message removes the overlay.
func (h *Host) SetMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg == h.message {
		return
	}
	h.message = msg
	h.stale = true
}

// LogicalSize returns the window's size in device-independent pixels.
func (h *Host) LogicalSize() image.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Scale returns the window's device scale factor.
func (h *Host) Scale() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scale
}

// SetIntrinsicSize records the intrinsic size of the hosted frames.
func (h *Host) SetIntrinsicSize(size image.Point) {
	h.mu.Lock()
	h.intrinsic = size
	h.mu.Unlock()
	h.log.LogAttrs(context.Background(), slog.LevelDebug, "intrinsic size", slog.Any("size", size))
}

// IntrinsicSize returns the last intrinsic size set by the hosted engine.
func (h *Host) IntrinsicSize() image.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.intrinsic
}

// Upload creates a texture for img. The returned release function
// deallocates the texture.
func (h *Host) Upload(img image.Image) (release func(), err error) {
	tex := ebiten.NewImageFromImage(img)
	h.mu.Lock()
	h.textures[img] = tex
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.textures, img)
		if h.current == img {
			h.current = nil
		}
		h.mu.Unlock()
		tex.Deallocate()
	}, nil
}

// Present makes img the presented image. Images that have not been
// uploaded have their pixels copied, so img may be reused by the caller
// after Present returns.
func (h *Host) Present(img image.Image) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.textures[img]; ok {
		h.current = img
		return nil
	}
	h.current = img
	h.pixels = copyRGBA(h.pixels, img)
	h.dirty = true
	return nil
}

// copyRGBA copies src into dst, reallocating dst if it does not have the
// size of src.
func copyRGBA(dst *image.RGBA, src image.Image) *image.RGBA {
	b := src.Bounds()
	if dst == nil || dst.Bounds().Size() != b.Size() {
		dst = image.NewRGBA(image.Rectangle{Max: b.Size()})
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Stride == dst.Stride && b.Min == (image.Point{}) {
		copy(dst.Pix, rgba.Pix)
		return dst
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return dst
}

// Clear removes the presented image.
func (h *Host) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
	return nil
}

// Interactive returns true.
func (h *Host) Interactive() bool { return true }

// Viewport returns the current window viewport.
func (h *Host) Viewport() variant.Viewport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return variant.Viewport{Width: h.size.X, Height: h.size.Y, Scale: h.scale}
}

// Watch registers fn to be called when the window's size or scale
// changes.
func (h *Host) Watch(fn func()) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextWatcher
	h.nextWatcher++
	h.watchers[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

// Request schedules fn to be called at the start of the next Update.
func (h *Host) Request(fn func(time.Time)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.callbacks = append(h.callbacks, callback{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, cb := range h.callbacks {
			if cb.id == id {
				h.callbacks = append(h.callbacks[:i], h.callbacks[i+1:]...)
				return
			}
		}
	}
}

// Now returns the wall clock time used to drain callbacks in Update.
func (h *Host) Now() time.Time { return time.Now() }

// drain runs the pending clock callbacks with now. Callbacks requested
// while draining are run in the next drain.
func (h *Host) drain(now time.Time) int {
	h.mu.Lock()
	pending := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()
	for _, cb := range pending {
		cb.fn(now)
	}
	return len(pending)
}

// Update runs pending clock callbacks and key bindings. It returns
// ebiten.Termination after Quit has been called.
func (h *Host) Update() error {
	h.drain(time.Now())

	h.mu.Lock()
	quit := h.quit
	var pressed []func()
	for k, fn := range h.keys {
		if inpututil.IsKeyJustPressed(k) {
			pressed = append(pressed, fn)
		}
	}
	h.mu.Unlock()
	if quit {
		return ebiten.Termination
	}
	for _, fn := range pressed {
		fn()
	}
	return nil
}

// Layout records the window size and device scale, notifying watchers
// of any change, and returns the device pixel size of the screen.
func (h *Host) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	scale := h.deviceScale()
	size := image.Point{X: outsideWidth, Y: outsideHeight}

	h.mu.Lock()
	changed := size != h.size || scale != h.scale
	h.size = size
	h.scale = scale
	if changed {
		h.stale = true
	}
	var watchers []func()
	if changed {
		for _, fn := range h.watchers {
			watchers = append(watchers, fn)
		}
	}
	h.mu.Unlock()

	if changed {
		h.log.LogAttrs(context.Background(), slog.LevelDebug, "layout", slog.Any("size", size), slog.Float64("scale", scale))
	}
	for _, fn := range watchers {
		fn()
	}
	return int(float64(outsideWidth) * scale), int(float64(outsideHeight) * scale)
}

// Draw draws the presented image letterboxed to the screen, followed by
// any message overlay.
func (h *Host) Draw(screen *ebiten.Image) {
	screen.Fill(color.Black)

	h.mu.Lock()
	defer h.mu.Unlock()

	var src *ebiten.Image
	switch {
	case h.current == nil:
	case h.textures[h.current] != nil:
		src = h.textures[h.current]
	case h.pixels != nil:
		if h.dirty {
			if h.backing == nil || h.backing.Bounds().Size() != h.pixels.Bounds().Size() {
				if h.backing != nil {
					h.backing.Deallocate()
				}
				h.backing = ebiten.NewImage(h.pixels.Bounds().Dx(), h.pixels.Bounds().Dy())
			}
			h.backing.WritePixels(h.pixels.Pix)
			h.dirty = false
		}
		src = h.backing
	}
	if src != nil {
		sb := src.Bounds()
		dst := text.Fit(screen.Bounds(), sb)
		var op ebiten.DrawImageOptions
		op.GeoM.Scale(float64(dst.Dx())/float64(sb.Dx()), float64(dst.Dy())/float64(sb.Dy()))
		op.GeoM.Translate(float64(dst.Min.X), float64(dst.Min.Y))
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(src, &op)
	}

	if h.message == "" {
		return
	}
	if h.stale || h.overlay == nil || h.overlay.Bounds() != screen.Bounds() {
		if h.overlay != nil {
			h.overlay.Deallocate()
		}
		h.overlay = ebiten.NewImageFromImage(renderMessage(screen.Bounds(), h.message))
		h.stale = false
	}
	screen.DrawImage(h.overlay, nil)
}

// renderMessage returns a transparent image of the given bounds holding
// msg.
func renderMessage(bounds image.Rectangle, msg string) *image.RGBA {
	img := image.NewRGBA(bounds)
	text.Message(img, msg, color.White, color.Black, basicfont.Face7x13)
	return img
}
