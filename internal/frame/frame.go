// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame provides loading and decoding of individual animation frames.
package frame

import (
	"fmt"
	"image"
	"sync"
)

// Kind is the decode path that produced a frame's pixels.
type Kind int

const (
	// Bitmap frames hold premultiplied *image.RGBA pixels that can be
	// drawn or uploaded without further conversion.
	Bitmap Kind = iota
	// Element frames hold the decoder's native image type.
	Element
)

func (k Kind) String() string {
	switch k {
	case Bitmap:
		return "bitmap"
	case Element:
		return "element"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Frame is a fully decoded image ready for immediate drawing.
type Frame struct {
	// Name is the frame name the frame was loaded for.
	Name string
	// URL is the resolved address of the frame's resource.
	URL string
	// Image is the decoded frame. It is nil after Release.
	Image image.Image
	// Kind is the decode path used.
	Kind Kind

	once    sync.Once
	release []func()
}

// Bounds returns the intrinsic bounds of the frame, or the zero rectangle
// if the frame has been released.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// OnRelease registers fn to be called when the frame is released.
func (f *Frame) OnRelease(fn func()) {
	if fn == nil {
		return
	}
	f.release = append(f.release, fn)
}

// Release releases resources held by the frame. It is safe to call
// Release more than once; only the first call has an effect.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		for _, fn := range f.release {
			fn()
		}
		f.release = nil
		f.Image = nil
	})
}

// ReleaseAll releases all non-nil frames in frames.
func ReleaseAll(frames []*Frame) {
	for _, f := range frames {
		f.Release()
	}
}
