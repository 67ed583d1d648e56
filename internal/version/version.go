// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

// Info is the version information of a build.
type Info struct {
	Version  string
	Revision string
	// Modified is "true" or "false" when the build has VCS
	// information, and empty otherwise.
	Modified string
}

// Read returns the version information embedded in the running binary.
func Read() (Info, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, errors.New("no build info")
	}
	info := Info{Version: bi.Main.Version}
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			info.Revision = bs.Value
		case "vcs.modified":
			info.Modified = bs.Value
		}
	}
	return info, nil
}

func (i Info) String() string {
	if i.Revision == "" {
		return i.Version
	}
	var buf strings.Builder
	buf.WriteString(i.Version)
	buf.WriteByte(' ')
	buf.WriteString(i.Revision)
	switch i.Modified {
	case "true":
		buf.WriteString(" (modified)")
	case "false", "":
	default:
		// This should never happen.
		buf.WriteByte(' ')
		buf.WriteString(i.Modified)
	}
	return buf.String()
}

// Fprint writes the build version of the running binary to w.
func Fprint(w io.Writer) error {
	info, err := Read()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, info)
	return err
}
