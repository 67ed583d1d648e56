// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 50 * time.Millisecond

// Change is a configuration change identified by a Watcher. If the file
// was removed, File and Err are both nil.
type Change struct {
	Event []fsnotify.Event
	File  *File
	Err   error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher collects raw fsnotify.Events for a single configuration file
// and filters for semantically meaningful changes.
type Watcher struct {
	path     string
	format   string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	sum      *Sum
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the configuration file at path, sending
// change events on the changes channel. The directory holding path is
// watched so that files replaced by rename are followed. The debounce
// parameter specifies how long to wait after the last fsnotify.Event
// before reading the file. If it is less than zero, FileDebounce is used.
// If the file exists, its current state is sent as a Create change when
// Watch is called.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:     path,
		format:   format,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		log:      log.With(slog.String("component", "config_watcher")),
	}, nil
}

// Watch sends changes until ctx is cancelled. It closes the underlying
// fsnotify.Watcher on return.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()

	_, err := os.Stat(w.path)
	if err == nil {
		if !w.send(ctx, w.read(ctx, []fsnotify.Event{{Name: w.path, Op: fsnotify.Create}})) {
			return nil
		}
	}

	var pending []fsnotify.Event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
			pending = append(pending, ev)
			timer.Reset(w.debounce)

		case <-timer.C:
			events := pending
			pending = nil
			ch := w.read(ctx, events)
			if ch.Event == nil {
				continue
			}
			if !w.send(ctx, ch) {
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if !w.send(ctx, Change{Err: err}) {
				return nil
			}
		}
	}
}

// read reads the watched file and returns the change it represents. If
// the file is semantically unchanged, the returned Change is empty.
func (w *Watcher) read(ctx context.Context, events []fsnotify.Event) Change {
	b, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.log.LogAttrs(ctx, slog.LevelDebug, "removed", slog.String("name", w.path))
			w.sum = nil
			return Change{Event: events}
		}
		w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
		return Change{Event: events, Err: err}
	}
	f, err := Parse(w.format, b)
	if err != nil {
		return Change{Event: events, Err: err}
	}
	if w.sum.Equal(f.Sum) {
		w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", f.Sum))
		return Change{}
	}
	w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.Any("sum", f.Sum), slog.Any("previous", w.sum))
	w.sum = f.Sum
	return Change{Event: events, File: f}
}

func (w *Watcher) send(ctx context.Context, c Change) bool {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case w.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
