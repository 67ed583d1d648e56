// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
)

type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	events := make([]eventValue, len(v.Event))
	for i, e := range v.Event {
		events[i] = eventValue{
			Name: e.Name,
			Op:   e.Op.String(),
			Code: int(e.Op),
		}
	}
	var sum string
	if v.File != nil {
		sum = v.File.Sum.String()
	}
	return slog.AnyValue(struct {
		Event []eventValue `json:"event"`
		Sum   string       `json:"sum,omitempty"`
		Err   error        `json:"err,omitempty"`
	}{
		Event: events,
		Sum:   sum,
		Err:   v.Err,
	})
}

type eventValue struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Code int    `json:"op_code"`
}
