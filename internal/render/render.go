// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render provides frame presentation onto a host mount.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/kortschak/seqplay/internal/frame"
)

// Mount is a host region able to present images.
type Mount interface {
	// LogicalSize returns the logical size of the region. A zero
	// size indicates that the region takes its size from the
	// frames drawn into it.
	LogicalSize() image.Point
	// Scale returns the device pixel ratio of the region.
	Scale() float64
	// Present makes img the visible content of the region.
	Present(img image.Image) error
	// Clear removes all content from the region.
	Clear() error
}

// Uploader is implemented by mounts that can prepare images for
// presentation ahead of time.
type Uploader interface {
	// Upload prepares img for presentation. The returned
	// function releases any resources held for img.
	Upload(img image.Image) (release func(), err error)
}

// Sizer is implemented by mounts that can adopt an intrinsic size.
type Sizer interface {
	SetIntrinsicSize(size image.Point)
}

// Mode is a rendering mode.
type Mode int

const (
	// ModeSurface renders frames into a backing bitmap at device
	// resolution and presents the bitmap.
	ModeSurface Mode = iota
	// ModeElement presents the frame images directly.
	ModeElement
)

func (m Mode) String() string {
	switch m {
	case ModeSurface:
		return "surface"
	case ModeElement:
		return "element"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode returns the Mode corresponding to s.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "surface", "":
		return ModeSurface, nil
	case "element":
		return ModeElement, nil
	default:
		return 0, fmt.Errorf("invalid render mode: %q", s)
	}
}

// ErrNotEstablished is returned by Surface.Draw when drawing in surface
// mode before the surface has been established.
var ErrNotEstablished = errors.New("surface not established")

// Surface draws frames onto a Mount. It is safe for concurrent use and
// draws onto the mount are never overlapped.
type Surface struct {
	mount Mount
	mode  Mode

	mu          sync.Mutex
	established bool
	// size is the logical size of the surface.
	size image.Point
	// backing is the device resolution bitmap used in surface mode.
	backing *image.RGBA
}

// NewSurface returns a new Surface presenting onto m.
func NewSurface(m Mount, mode Mode) *Surface {
	return &Surface{mount: m, mode: mode}
}

// Mode returns the surface's render mode.
func (s *Surface) Mode() Mode { return s.mode }

// Establish fixes the surface dimensions from the first frame's intrinsic
// size. Only the first call has an effect. If the mount has a logical
// size, it is used in place of the frame's size.
func (s *Surface) Establish(first image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.established {
		return
	}
	s.established = true
	intrinsic := first.Bounds().Size()
	if sz, ok := s.mount.(Sizer); ok {
		sz.SetIntrinsicSize(intrinsic)
	}
	s.size = s.mount.LogicalSize()
	if s.size.X <= 0 || s.size.Y <= 0 {
		s.size = intrinsic
	}
	if s.mode != ModeSurface {
		return
	}
	scale := s.mount.Scale()
	if scale <= 0 {
		scale = 1
	}
	s.backing = image.NewRGBA(image.Rectangle{Max: image.Point{
		X: int(math.Ceil(float64(s.size.X) * scale)),
		Y: int(math.Ceil(float64(s.size.Y) * scale)),
	}})
}

// Size returns the established logical size of the surface.
func (s *Surface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Backing returns the surface-mode backing bitmap. It is nil in element
// mode and before the surface has been established.
func (s *Surface) Backing() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backing
}

// Draw presents frames[index]. Drawing an index that does not hold a
// loaded frame is a no-op.
func (s *Surface) Draw(frames []*frame.Frame, index int) error {
	if index < 0 || len(frames) <= index || frames[index] == nil || frames[index].Image == nil {
		return nil
	}
	img := frames[index].Image
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeElement {
		return s.mount.Present(img)
	}
	if s.backing == nil {
		return ErrNotEstablished
	}
	draw.Copy(s.backing, image.Point{}, image.Transparent, s.backing.Bounds(), draw.Src, nil)
	draw.BiLinear.Scale(s.backing, s.backing.Bounds(), img, img.Bounds(), draw.Over, nil)
	return s.mount.Present(s.backing)
}

// Clear clears the mount.
func (s *Surface) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backing != nil {
		draw.Copy(s.backing, image.Point{}, image.Transparent, s.backing.Bounds(), draw.Src, nil)
	}
	return s.mount.Clear()
}
