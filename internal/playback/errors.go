// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package playback

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by operations on a disposed Engine.
var ErrDisposed = errors.New("engine disposed")

// ConfigError is the error returned for invalid construction input.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Warning is a soft playback condition. Warnings are reported to the
// OnWarning option and logged. They are never returned.
type Warning struct {
	Op     string
	Reason string
}

func (w *Warning) Error() string {
	return w.Op + ": " + w.Reason
}
