// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slogext

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	addSource := NewAtomicBool(false)
	log := NewLogger(&buf, &level, addSource)

	log.Debug("hidden")
	log.Info("plain", slog.Any("interval", Stringer{100 * time.Millisecond}))
	addSource.Store(true)
	log.With(slog.String("component", "test")).Warn("with source")

	var recs []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var m map[string]any
		err := dec.Decode(&m)
		if err != nil {
			t.Fatalf("unexpected error decoding log: %v", err)
		}
		recs = append(recs, m)
	}
	if len(recs) != 2 {
		t.Fatalf("unexpected number of records: got:%d want:2\n%s", len(recs), &buf)
	}
	for i, r := range recs {
		if _, ok := r["goid"]; !ok {
			t.Errorf("record %d missing goid: %v", i, r)
		}
	}
	if got := recs[0]["interval"]; got != "100ms" {
		t.Errorf("unexpected stringer value: %v", got)
	}
	if _, ok := recs[0][slog.SourceKey]; ok {
		t.Errorf("unexpected source in first record: %v", recs[0])
	}
	if _, ok := recs[1][slog.SourceKey]; !ok {
		t.Errorf("missing source in second record: %v", recs[1])
	}
	if got := recs[1]["component"]; got != "test" {
		t.Errorf("unexpected component: %v", got)
	}
}
