// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The seqplay command plays an image sequence in a window, switching
// between image set variants as the window is resized.
//
// Key bindings:
//
//	P      preload frames
//	Space  play or pause
//	S      stop
//	V      cycle variant
//	R      toggle responsive switching
//	Up     speed up
//	Down   slow down
//	Q, Esc quit
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/kortschak/seqplay/internal/config"
	"github.com/kortschak/seqplay/internal/ebitenhost"
	"github.com/kortschak/seqplay/internal/slogext"
	"github.com/kortschak/seqplay/internal/version"
	"github.com/kortschak/seqplay/internal/xdg"
)

func main() {
	cfgPath := flag.String("config", "", "configuration file (default seqplay/seqplay.toml in the XDG config path)")
	width := flag.Int("width", 960, "initial window width")
	height := flag.Int("height", 540, "initial window height")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *v {
		err := version.Fprint(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		os.Exit(2)
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slogext.NewLogger(os.Stderr, &level, addSource)
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "seqplay.main"))

	path := *cfgPath
	if path == "" {
		path, err = xdg.FirstConfig(false, "seqplay/seqplay.toml", "seqplay/seqplay.yaml", "seqplay/seqplay.yml")
		if err != nil {
			fmt.Fprintln(os.Stderr, "no configuration file found")
			os.Exit(2)
		}
	}
	path, err = filepath.Abs(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mlog.LogAttrs(context.Background(), slog.LevelInfo, "config", slog.String("path", path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	host := ebitenhost.New(image.Point{X: *width, Y: *height}, log)
	view := newViewer(host, os.DirFS(filepath.Dir(path)), &http.Client{Timeout: time.Minute}, log, &level, addSource)
	bind(ctx, host, view)

	changes := make(chan config.Change)
	watcher, err := config.NewWatcher(path, changes, config.FileDebounce, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	go func() {
		err := watcher.Watch(ctx)
		if err != nil && ctx.Err() == nil {
			mlog.LogAttrs(ctx, slog.LevelError, "config watcher", slog.Any("error", err))
		}
		host.Quit()
	}()
	go func() {
		for {
			var cfg config.Change
			select {
			case <-ctx.Done():
				return
			case cfg = <-changes:
			}
			switch {
			case cfg.Err != nil:
				mlog.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", cfg.Err))
				host.SetMessage(cfg.Err.Error())
				continue
			case cfg.File == nil:
				mlog.LogAttrs(ctx, slog.LevelWarn, "config removed", slog.Any("op", slogext.Stringer{Stringer: cfg.Op()}))
				continue
			}
			mlog.LogAttrs(ctx, slog.LevelDebug, "config stream element", slog.Any("config", cfg.File), slog.Any("events", cfg.Event))
			err := view.apply(ctx, cfg.File)
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "config apply error", slog.Any("error", err))
				host.SetMessage(err.Error())
			}
		}
	}()

	ebiten.SetWindowSize(*width, *height)
	ebiten.SetWindowTitle("seqplay")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	err = ebiten.RunGame(host)
	cancel()
	if cerr := view.close(); cerr != nil {
		mlog.LogAttrs(context.Background(), slog.LevelWarn, "close", slog.Any("error", cerr))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bind binds the viewer's actions to the host's keys. Actions that may
// block are run on their own goroutine.
func bind(ctx context.Context, h *ebitenhost.Host, v *viewer) {
	h.Bind(ebiten.KeyP, func() { go v.preload(ctx) })
	h.Bind(ebiten.KeySpace, func() { go v.togglePlay(ctx) })
	h.Bind(ebiten.KeyS, v.stop)
	h.Bind(ebiten.KeyV, func() { go v.cycle(ctx) })
	h.Bind(ebiten.KeyR, func() { v.toggleResponsive(ctx) })
	h.Bind(ebiten.KeyUp, func() { v.speed(0.8) })
	h.Bind(ebiten.KeyDown, func() { v.speed(1.25) })
	h.Bind(ebiten.KeyQ, h.Quit)
	h.Bind(ebiten.KeyEscape, h.Quit)
}
