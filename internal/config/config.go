// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, vetting and live
// reloading.
package config

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kortschak/seqplay/config"
	"github.com/kortschak/seqplay/internal/playback"
	"github.com/kortschak/seqplay/internal/responsive"
	"github.com/kortschak/seqplay/internal/variant"
)

// Alias the publicly visible types.
type (
	File       = config.File
	Player     = config.Player
	Variant    = config.Variant
	Responsive = config.Responsive
	Duration   = config.Duration
	Sum        = config.Sum
)

// DefaultVariant is the variant key used for configurations without
// variants.
const DefaultVariant = "default"

// VetError is returned when a configuration does not conform to
// config.Schema.
type VetError struct {
	// Paths holds the invalid field paths.
	Paths [][]string
	Err   error
}

func (e *VetError) Error() string {
	p := make([]string, len(e.Paths))
	for i, path := range e.Paths {
		p[i] = strings.Join(path, ".")
	}
	return fmt.Sprintf("invalid configuration at [%s]: %v", strings.Join(p, " "), e.Err)
}

func (e *VetError) Unwrap() error { return e.Err }

// Format returns the configuration format implied by the extension of
// path, "toml" or "yaml".
func Format(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return "toml", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unknown configuration format: %q", ext)
	}
}

// Load reads, vets and parses the configuration file at path.
func Load(path string) (*File, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(format, b)
}

// Parse vets and parses b as a configuration in the given format. The
// returned File has its Sum set to the semantic hash of its contents.
// Vetting failures are returned as a *VetError.
func Parse(format string, b []byte) (*File, error) {
	var unmarshal func([]byte, any) error
	switch format {
	case "toml":
		unmarshal = toml.Unmarshal
	case "yaml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("unknown configuration format: %q", format)
	}

	var raw map[string]any
	err := unmarshal(b, &raw)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	paths, err := Validate(config.Schema, raw)
	if err != nil {
		return nil, &VetError{Paths: paths, Err: err}
	}

	f := &File{}
	err = unmarshal(b, f)
	if err != nil {
		return nil, err
	}
	sum, err := semanticSum(f)
	if err != nil {
		return nil, err
	}
	f.Sum = &sum
	return f, nil
}

// semanticSum returns the SHA-1 sum of the canonical JSON encoding of f
// excluding its Sum field.
func semanticSum(f *File) (Sum, error) {
	c := *f
	c.Sum = nil
	var buf bytes.Buffer
	err := json.NewEncoder(&buf).Encode(c)
	if err != nil {
		return Sum{}, err
	}
	return sha1.Sum(buf.Bytes()), nil
}

// Options returns the controller options described by f. The returned
// options do not include host bindings: Player.Mount, Player.Clock,
// Player.Client, Player.FS and Environment must be set by the caller.
func Options(f *File) (responsive.Options, error) {
	p := f.Player
	opts := responsive.Options{
		Player: playback.Options{
			Extension:    p.Extension,
			ResourcePath: p.ResourcePath,
			Interval:     p.Interval.Std(),
			FPS:          p.FPS,
			Loop:         p.Loop,
			AutoPlay:     p.AutoPlay,
			RenderMode:   p.RenderMode,
			Concurrency:  p.Concurrency,
		},
	}
	if p.Base != "" {
		u, err := url.Parse(p.Base)
		if err != nil {
			return opts, &playback.ConfigError{Field: "base", Reason: err.Error()}
		}
		opts.Player.Base = u
	}

	if len(f.Variants) == 0 {
		opts.Variants = []variant.Entry{{
			Key:          DefaultVariant,
			FrameNames:   p.Frames,
			ResourcePath: p.ResourcePath,
		}}
	} else {
		opts.Variants = make([]variant.Entry, len(f.Variants))
		for i, v := range f.Variants {
			opts.Variants[i] = variant.Entry{
				Key:          v.Key,
				FrameNames:   v.Frames,
				ResourcePath: v.ResourcePath,
			}
		}
	}

	if r := f.Responsive; r != nil {
		if r.Switching != nil {
			opts.ResponsiveSwitching = *r.Switching
		}
		opts.BreakpointQuery = r.BreakpointQuery
		opts.BreakpointWidth = r.BreakpointWidth
		opts.Debounce = r.Debounce.Std()
	}
	return opts, nil
}
