// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package celext provides CEL extensions for viewport breakpoint queries.
package celext

import (
	"context"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Lib returns a cel.EnvOption to configure extended functions for
// breakpoint queries.
//
// # Between
//
// Returns whether the first parameter lies within the closed interval
// given by the second and third:
//
//	between(<int>, <int>, <int>) -> <bool>
//	between(<double>, <double>, <double>) -> <bool>
//
// Examples:
//
//	between(width, 600, 900)  // return true for widths from 600 to 900
//
// # Ratio
//
// Returns the ratio of the first parameter to the second, or an error if
// the second is zero:
//
//	ratio(<int>, <int>) -> <double>
//
// Examples:
//
//	ratio(width, height) < 1.0  // return true for portrait viewports
//
// # Debug
//
// The second parameter is returned unaltered and the value is logged to the
// lib's logger:
//
//	debug(<string>, <dyn>) -> <dyn>
//
// Examples:
//
//	debug("tag", expr) // return expr even if it is an error and logs with "tag".
func Lib(log *slog.Logger) cel.EnvOption {
	return cel.Lib(lib{log: log})
}

type lib struct {
	log *slog.Logger
}

func (l lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("between",
			cel.Overload(
				"between_int_int_int",
				[]*cel.Type{cel.IntType, cel.IntType, cel.IntType},
				cel.BoolType,
				cel.FunctionBinding(between),
			),
			cel.Overload(
				"between_double_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType},
				cel.BoolType,
				cel.FunctionBinding(between),
			),
		),
		cel.Function("ratio",
			cel.Overload(
				"ratio_int_int",
				[]*cel.Type{cel.IntType, cel.IntType},
				cel.DoubleType,
				cel.BinaryBinding(ratio),
			),
		),
		cel.Function("debug",
			cel.Overload(
				"debug_string_dyn",
				[]*cel.Type{cel.StringType, cel.DynType},
				cel.DynType,
				cel.BinaryBinding(l.logDebug),
				cel.OverloadIsNonStrict(),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption { return nil }

func between(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("no such overload")
	}
	switch x := args[0].(type) {
	case types.Int:
		lo, ok1 := args[1].(types.Int)
		hi, ok2 := args[2].(types.Int)
		if !ok1 || !ok2 {
			return types.NewErr("no such overload")
		}
		return types.Bool(lo <= x && x <= hi)
	case types.Double:
		lo, ok1 := args[1].(types.Double)
		hi, ok2 := args[2].(types.Double)
		if !ok1 || !ok2 {
			return types.NewErr("no such overload")
		}
		return types.Bool(lo <= x && x <= hi)
	default:
		return types.NewErr("no such overload")
	}
}

func ratio(arg0, arg1 ref.Val) ref.Val {
	n, ok1 := arg0.(types.Int)
	d, ok2 := arg1.(types.Int)
	if !ok1 || !ok2 {
		return types.NewErr("no such overload")
	}
	if d == 0 {
		return types.NewErr("ratio with zero denominator")
	}
	return types.Double(float64(n) / float64(d))
}

func (l lib) logDebug(arg0, arg1 ref.Val) ref.Val {
	tag, ok := arg0.(types.String)
	if !ok {
		return types.ValOrErr(tag, "no such overload")
	}
	if l.log == nil {
		return arg1
	}
	if err, ok := arg1.(*types.Err); ok {
		l.log.LogAttrs(context.Background(), slog.LevelError, "cel debug log error", slog.String("tag", string(tag)), slog.Any("error", err))
	} else {
		l.log.LogAttrs(context.Background(), slog.LevelDebug, "cel debug log", slog.String("tag", string(tag)), slog.Any("value", arg1.Value()))
	}
	return arg1
}
