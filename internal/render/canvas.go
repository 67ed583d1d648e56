// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"image"
	"sync"
)

// Canvas is an in-memory Mount. It records the presented images and is
// suitable for headless use.
type Canvas struct {
	// Size is the logical size of the canvas. A zero size takes
	// the intrinsic size of the frames.
	Size image.Point
	// DeviceScale is the device pixel ratio. Zero is treated as 1.
	DeviceScale float64

	mu        sync.Mutex
	current   image.Image
	intrinsic image.Point
	presents  int
	clears    int
	uploads   int
	releases  int
}

var (
	_ Mount    = (*Canvas)(nil)
	_ Uploader = (*Canvas)(nil)
	_ Sizer    = (*Canvas)(nil)
)

func (c *Canvas) LogicalSize() image.Point { return c.Size }

func (c *Canvas) Scale() float64 {
	if c.DeviceScale <= 0 {
		return 1
	}
	return c.DeviceScale
}

func (c *Canvas) Present(img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = img
	c.presents++
	return nil
}

func (c *Canvas) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.clears++
	return nil
}

func (c *Canvas) Upload(img image.Image) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads++
	return func() {
		c.mu.Lock()
		c.releases++
		c.mu.Unlock()
	}, nil
}

func (c *Canvas) SetIntrinsicSize(size image.Point) {
	c.mu.Lock()
	c.intrinsic = size
	c.mu.Unlock()
}

// Current returns the currently presented image.
func (c *Canvas) Current() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stats holds Canvas operation counts.
type Stats struct {
	Presents  int
	Clears    int
	Uploads   int
	Releases  int
	Intrinsic image.Point
}

// Stats returns the operation counts for the canvas.
func (c *Canvas) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Presents:  c.presents,
		Clears:    c.clears,
		Uploads:   c.uploads,
		Releases:  c.releases,
		Intrinsic: c.intrinsic,
	}
}
