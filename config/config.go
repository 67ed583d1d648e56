// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides seqplay configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// File is a complete configuration.
type File struct {
	Player     Player      `json:"player" toml:"player" yaml:"player"`
	Variants   []Variant   `json:"variant,omitempty" toml:"variant" yaml:"variant"`
	Responsive *Responsive `json:"responsive,omitempty" toml:"responsive" yaml:"responsive"`

	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level" yaml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source" yaml:"log_add_source"`

	Sum *Sum `json:"sum,omitempty" toml:"-" yaml:"-"`
}

// Player is the base playback configuration.
type Player struct {
	// Frames is the ordered list of frame names without
	// extension. It is used when no variants are configured.
	Frames []string `json:"frames,omitempty" toml:"frames" yaml:"frames"`
	// Extension is the frame resource extension. The default
	// is "webp".
	Extension string `json:"extension,omitempty" toml:"extension" yaml:"extension"`
	// ResourcePath is the prefix for frame addresses. The
	// default is "/imgs/".
	ResourcePath string `json:"resource_path,omitempty" toml:"resource_path" yaml:"resource_path"`
	// Base is the URL relative frame addresses are resolved
	// against.
	Base string `json:"base,omitempty" toml:"base" yaml:"base"`

	Interval   *Duration `json:"interval,omitempty" toml:"interval" yaml:"interval"`
	FPS        float64   `json:"fps,omitempty" toml:"fps" yaml:"fps"`
	Loop       *bool     `json:"loop,omitempty" toml:"loop" yaml:"loop"`
	AutoPlay   *bool     `json:"autoplay,omitempty" toml:"autoplay" yaml:"autoplay"`
	RenderMode string    `json:"render_mode,omitempty" toml:"render_mode" yaml:"render_mode"`

	// Concurrency is the maximum number of frames loaded
	// concurrently during preload.
	Concurrency int `json:"concurrency,omitempty" toml:"concurrency" yaml:"concurrency"`
}

// Variant is a named image set.
type Variant struct {
	Key          string   `json:"key" toml:"key" yaml:"key"`
	Frames       []string `json:"frames" toml:"frames" yaml:"frames"`
	ResourcePath string   `json:"resource_path,omitempty" toml:"resource_path" yaml:"resource_path"`
}

// Responsive is the variant switching configuration.
type Responsive struct {
	Switching       *bool     `json:"switching,omitempty" toml:"switching" yaml:"switching"`
	BreakpointQuery string    `json:"breakpoint_query,omitempty" toml:"breakpoint_query" yaml:"breakpoint_query"`
	BreakpointWidth int       `json:"breakpoint_width,omitempty" toml:"breakpoint_width" yaml:"breakpoint_width"`
	Debounce        *Duration `json:"debounce,omitempty" toml:"debounce" yaml:"debounce"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	player:          _#player
	variant?:        [_#variant, ..._#variant]
	responsive?:     _#responsive
	log_level?:      _#log_level
	log_add_source?: bool

	if variant == _|_ {
		player: frames: [string, ...string]
	}
}

_#player: {
	frames?:        [...string]
	extension?:     =~"^\\.?[A-Za-z0-9]+$"
	resource_path?: string
	base?:          =~"^(?:https?|file)://"
	interval?:      _#duration
	fps?:           number & >0
	loop?:          bool
	autoplay?:      bool
	render_mode?:   "surface" | "element"
	concurrency?:   int & >0
}

_#variant: {
	key:            !=""
	frames:         [!="", ...!=""]
	resource_path?: string
}

_#responsive: {
	switching?:        bool
	breakpoint_query?: string
	breakpoint_width?: int & >0
	debounce?:         _#duration
}

_#duration: =~"^(?:[0-9]+(?:\\.[0-9]+)?(?:ns|us|µs|ms|s|m|h))+$"
_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Duration is a time.Duration that is encoded as a duration string.
type Duration time.Duration

// Std returns d as a time.Duration. A nil Duration is zero.
func (d *Duration) Std() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration node at line %d", n.Line)
	}
	return d.UnmarshalText([]byte(n.Value))
}

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
