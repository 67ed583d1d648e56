// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/seqplay/config"
)

var validateTests = []struct {
	name      string
	config    map[string]any
	wantPaths [][]string
	wantErr   bool
}{
	{
		name: "frames_only",
		config: map[string]any{
			"player": map[string]any{
				"frames":   []any{"f0", "f1"},
				"interval": "80ms",
			},
		},
	},
	{
		name: "variants",
		config: map[string]any{
			"player": map[string]any{
				"extension":   "png",
				"render_mode": "element",
			},
			"variant": []any{
				map[string]any{"key": "desktop", "frames": []any{"d0"}},
				map[string]any{"key": "mobile", "frames": []any{"m0"}, "resource_path": "/m/"},
			},
			"responsive": map[string]any{
				"switching":        true,
				"breakpoint_query": "width <= 600",
				"debounce":         "200ms",
			},
		},
	},
	{
		name: "no_frames",
		config: map[string]any{
			"player": map[string]any{},
		},
		wantPaths: [][]string{{"player", "frames"}},
		wantErr:   true,
	},
	{
		name: "bad_variant",
		config: map[string]any{
			"player": map[string]any{},
			"variant": []any{
				map[string]any{"key": "", "frames": []any{"d0"}},
			},
		},
		wantPaths: [][]string{{"variant", "0", "key"}},
		wantErr:   true,
	},
	{
		name: "bad_player_fields",
		config: map[string]any{
			"player": map[string]any{
				"frames":      []any{"f0"},
				"interval":    "fast",
				"render_mode": "canvas",
			},
		},
		wantPaths: [][]string{
			{"player", "interval"},
			{"player", "render_mode"},
		},
		wantErr: true,
	},
	{
		name: "unknown_field",
		config: map[string]any{
			"player": map[string]any{
				"frames": []any{"f0"},
				"speed":  2,
			},
		},
		wantPaths: [][]string{{"player", "speed"}},
		wantErr:   true,
	},
}

func TestValidate(t *testing.T) {
	for _, test := range validateTests {
		t.Run(test.name, func(t *testing.T) {
			paths, err := Validate(config.Schema, test.config)
			if (err != nil) != test.wantErr {
				t.Errorf("unexpected error: got:%v want error:%t", err, test.wantErr)
			}
			if !coveredBy(paths, test.wantPaths) {
				t.Errorf("unexpected paths:\n--- want prefixes:\n+++ got:\n%s", cmp.Diff(test.wantPaths, paths))
			}
		})
	}
}

// coveredBy returns whether every path in got has a prefix in want and
// every path in want is a prefix of a path in got.
func coveredBy(got, want [][]string) bool {
	if len(got) == 0 || len(want) == 0 {
		return len(got) == len(want)
	}
	isPrefix := func(p, q []string) bool {
		return len(p) <= len(q) && slices.Equal(p, q[:len(p)])
	}
	for _, g := range got {
		if !slices.ContainsFunc(want, func(w []string) bool { return isPrefix(w, g) }) {
			return false
		}
	}
	for _, w := range want {
		if !slices.ContainsFunc(got, func(g []string) bool { return isPrefix(w, g) }) {
			return false
		}
	}
	return true
}

func TestUnique(t *testing.T) {
	got := unique([][]string{
		{"b"},
		{"a", "b"},
		{"a"},
		{"a", "b"},
		{"b"},
	})
	want := [][]string{{"a"}, {"a", "b"}, {"b"}}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}
