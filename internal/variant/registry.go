// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package variant provides variant registration and detection.
package variant

import (
	"fmt"
	"slices"

	"github.com/kortschak/seqplay/internal/playback"
)

// Well known variant keys.
const (
	Desktop = "desktop"
	Mobile  = "mobile"
)

// Entry is a named image set.
type Entry struct {
	Key          string
	FrameNames   []string
	ResourcePath string
}

// Registry is an ordered set of variants.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry returns a new Registry holding entries in order. It returns
// a *playback.ConfigError if entries is empty, or if any entry has an
// empty or duplicate key or no frames.
func NewRegistry(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, &playback.ConfigError{Field: "variants", Reason: "no variants"}
	}
	r := &Registry{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.Key == "" {
			return nil, &playback.ConfigError{Field: "variants", Reason: fmt.Sprintf("empty key at index %d", i)}
		}
		if _, dup := r.index[e.Key]; dup {
			return nil, &playback.ConfigError{Field: "variants", Reason: fmt.Sprintf("duplicate key %q", e.Key)}
		}
		if len(e.FrameNames) == 0 {
			return nil, &playback.ConfigError{Field: "variants", Reason: fmt.Sprintf("no frame names for %q", e.Key)}
		}
		e.FrameNames = slices.Clone(e.FrameNames)
		r.entries[i] = e
		r.index[e.Key] = i
	}
	return r, nil
}

// Keys returns the variant keys in registration order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	return keys
}

// Lookup returns the entry for key.
func (r *Registry) Lookup(key string) (Entry, bool) {
	i, ok := r.index[key]
	if !ok {
		return Entry{}, false
	}
	e := r.entries[i]
	e.FrameNames = slices.Clone(e.FrameNames)
	return e, true
}

// Has returns whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.index[key]
	return ok
}

// Fallback returns "desktop" if it is registered, otherwise the first key.
func (r *Registry) Fallback() string {
	if r.Has(Desktop) {
		return Desktop
	}
	return r.entries[0].Key
}

// Next returns the key following key in registration order, wrapping at
// the end. If key is not registered, the first key is returned.
func (r *Registry) Next(key string) string {
	i, ok := r.index[key]
	if !ok {
		return r.entries[0].Key
	}
	return r.entries[(i+1)%len(r.entries)].Key
}
