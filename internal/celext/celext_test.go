// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package celext

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/cel-go/cel"

	"github.com/kortschak/seqplay/internal/slogext"
)

var libTests = []struct {
	name    string
	src     string
	vars    map[string]any
	want    any
	wantErr string
}{
	{
		name: "between_int_in",
		src:  "between(width, 600, 900)",
		vars: map[string]any{"width": int64(900), "ratio_val": 1.0},
		want: true,
	},
	{
		name: "between_int_out",
		src:  "between(width, 600, 900)",
		vars: map[string]any{"width": int64(901), "ratio_val": 1.0},
		want: false,
	},
	{
		name: "between_double",
		src:  "between(ratio_val, 0.5, 1.5)",
		vars: map[string]any{"width": int64(0), "ratio_val": 0.75},
		want: true,
	},
	{
		name: "ratio",
		src:  "ratio(width, 4)",
		vars: map[string]any{"width": int64(3), "ratio_val": 0.0},
		want: 0.75,
	},
	{
		name:    "ratio_zero",
		src:     "ratio(width, 0) < 1.0",
		vars:    map[string]any{"width": int64(3), "ratio_val": 0.0},
		wantErr: "zero denominator",
	},
	{
		name: "debug",
		src:  `debug("w", width) > 10`,
		vars: map[string]any{"width": int64(30), "ratio_val": 0.0},
		want: true,
	},
}

func TestLib(t *testing.T) {
	for _, test := range libTests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slogext.NewJSONHandler(&buf, &slogext.HandlerOptions{Level: slog.LevelDebug}))
			env, err := cel.NewEnv(
				cel.Variable("width", cel.IntType),
				cel.Variable("ratio_val", cel.DoubleType),
				Lib(log),
			)
			if err != nil {
				t.Fatalf("unexpected error creating env: %v", err)
			}
			ast, iss := env.Compile(test.src)
			if iss.Err() != nil {
				t.Fatalf("unexpected error compiling %q: %v", test.src, iss.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				t.Fatalf("unexpected error creating program: %v", err)
			}
			out, _, err := prg.Eval(test.vars)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("unexpected error: got:%v want:%q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error evaluating: %v", err)
			}
			if got := out.Value(); got != test.want {
				t.Errorf("unexpected result: got:%v want:%v", got, test.want)
			}
			if test.name == "debug" && !strings.Contains(buf.String(), `"tag":"w"`) {
				t.Errorf("missing debug log: %s", &buf)
			}
		})
	}
}
