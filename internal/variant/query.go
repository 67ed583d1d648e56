// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package variant

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/kortschak/seqplay/internal/celext"
)

// DefaultQuery is the default breakpoint query.
const DefaultQuery = "width <= 900"

// WidthQuery returns a breakpoint query matching viewports no wider than
// bw. A non-positive bw uses DefaultBreakpointWidth.
func WidthQuery(bw int) string {
	if bw <= 0 {
		bw = DefaultBreakpointWidth
	}
	return fmt.Sprintf("width <= %d", bw)
}

// Query is a compiled breakpoint query. It is a CEL expression
// evaluating to a bool with the variables
//
//	width        int     viewport width in logical pixels
//	height       int     viewport height in logical pixels
//	scale        double  device pixel ratio
//	orientation  string  "portrait" or "landscape"
//
// The functions provided by celext.Lib are available to queries.
// A true result indicates that the mobile variant should be used.
type Query struct {
	src string
	prg cel.Program
}

// CompileQuery compiles src. If src is empty, DefaultQuery is used.
// Query debug calls are logged to log if it is not nil.
func CompileQuery(src string, log *slog.Logger) (*Query, error) {
	if src == "" {
		src = DefaultQuery
	}
	env, err := cel.NewEnv(
		cel.Variable("width", cel.IntType),
		cel.Variable("height", cel.IntType),
		cel.Variable("scale", cel.DoubleType),
		cel.Variable("orientation", cel.StringType),
		celext.Lib(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}

	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed compilation: %v", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("query result type must be bool: got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed program instantiation: %v", err)
	}
	return &Query{src: src, prg: prg}, nil
}

// String returns the query source.
func (q *Query) String() string { return q.src }

// Match evaluates the query against vp.
func (q *Query) Match(vp Viewport) (bool, error) {
	out, _, err := q.prg.Eval(map[string]any{
		"width":       int64(vp.Width),
		"height":      int64(vp.Height),
		"scale":       vp.Scale,
		"orientation": vp.Orientation(),
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected query result type: %T", out.Value())
	}
	return b, nil
}
