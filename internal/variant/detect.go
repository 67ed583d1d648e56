// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package variant

import (
	"context"
	"log/slog"
)

// DefaultBreakpointWidth is the default breakpoint width used when no
// query is available.
const DefaultBreakpointWidth = 900

// Viewport is the host viewport geometry.
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

// Orientation returns "portrait" if the viewport is taller than it is
// wide and "landscape" otherwise.
func (v Viewport) Orientation() string {
	if v.Height > v.Width {
		return "portrait"
	}
	return "landscape"
}

// Environment is the host environment.
type Environment interface {
	// Interactive returns whether the host is presenting to a user.
	Interactive() bool
	// Viewport returns the current viewport geometry.
	Viewport() Viewport
}

// Detector selects the variant appropriate for an environment.
type Detector struct {
	Registry *Registry

	// Query is the breakpoint query. If Query is nil or its
	// evaluation fails, the viewport width is compared to
	// BreakpointWidth.
	Query *Query
	// BreakpointWidth is the largest width considered mobile.
	// Zero uses DefaultBreakpointWidth.
	BreakpointWidth int

	Log *slog.Logger
}

// Detect returns the variant key for env. Non-interactive environments
// always get the registry's fallback key.
func (d Detector) Detect(env Environment) string {
	if env == nil || !env.Interactive() {
		return d.Registry.Fallback()
	}
	vp := env.Viewport()
	if d.Query != nil {
		mobile, err := d.Query.Match(vp)
		if err == nil {
			return d.resolve(mobile)
		}
		if d.Log != nil {
			d.Log.LogAttrs(context.Background(), slog.LevelWarn, "breakpoint query failed", slog.String("query", d.Query.String()), slog.Any("error", err))
		}
	}
	bw := d.BreakpointWidth
	if bw <= 0 {
		bw = DefaultBreakpointWidth
	}
	return d.resolve(vp.Width <= bw)
}

func (d Detector) resolve(mobile bool) string {
	if mobile && d.Registry.Has(Mobile) {
		return Mobile
	}
	return d.Registry.Fallback()
}
