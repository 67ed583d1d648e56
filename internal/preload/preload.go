// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package preload provides deduplicated concurrent loading of ordered
// frame sets.
package preload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kortschak/seqplay/internal/frame"
)

// DefaultLimit is the default maximum number of concurrent frame loads.
const DefaultLimit = 8

// ErrReleased is returned by Preload after the pipeline has been released.
var ErrReleased = errors.New("pipeline released")

// Loader is the frame loading interface used by a Pipeline.
type Loader interface {
	Load(ctx context.Context, name string) (*frame.Frame, error)
}

// Pipeline loads an ordered set of frames. Concurrent calls to Preload
// share a single fan-out.
type Pipeline struct {
	ctx    context.Context
	loader Loader
	names  []string
	limit  int
	log    *slog.Logger

	// onReady is called once with the loaded frames on the
	// first successful fan-out, before the pipeline is marked ready.
	onReady func([]*frame.Frame)

	group singleflight.Group

	mu       sync.Mutex
	frames   []*frame.Frame
	ready    bool
	released bool
}

// New returns a new Pipeline loading the named frames with loader. Loads
// are performed within ctx, which should have the lifetime of the
// pipeline's owner. If limit is not positive, DefaultLimit is used.
// onReady may be nil.
func New(ctx context.Context, loader Loader, names []string, limit int, onReady func([]*frame.Frame), log *slog.Logger) *Pipeline {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		ctx:     ctx,
		loader:  loader,
		names:   names,
		limit:   limit,
		onReady: onReady,
		log:     log,
	}
}

// Preload loads all the pipeline's frames. If the frames are already
// loaded, Preload returns immediately. If a load is in flight, Preload
// waits for its outcome. A failed load may be retried by calling Preload
// again. Cancelling ctx abandons the wait but not the shared load.
func (p *Pipeline) Preload(ctx context.Context) error {
	p.mu.Lock()
	released, ready := p.released, p.ready
	p.mu.Unlock()
	if released {
		return ErrReleased
	}
	if ready {
		return nil
	}

	ch := p.group.DoChan("preload", func() (any, error) {
		return nil, p.load()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load performs the frame fan-out.
func (p *Pipeline) load() error {
	start := time.Now()
	p.log.LogAttrs(p.ctx, slog.LevelDebug, "preload start", slog.Int("frames", len(p.names)), slog.Int("limit", p.limit))

	frames := make([]*frame.Frame, len(p.names))
	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.limit)
	for i, name := range p.names {
		g.Go(func() error {
			f, err := p.loader.Load(ctx, name)
			if err != nil {
				return err
			}
			frames[i] = f
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		frame.ReleaseAll(frames)
		p.log.LogAttrs(p.ctx, slog.LevelError, "preload failed", slog.Any("error", err))
		return err
	}

	if p.isReleased() {
		frame.ReleaseAll(frames)
		return ErrReleased
	}
	if p.onReady != nil {
		p.onReady(frames)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		frame.ReleaseAll(frames)
		return ErrReleased
	}
	p.frames = frames
	p.ready = true
	p.log.LogAttrs(p.ctx, slog.LevelDebug, "preload complete", slog.Int("frames", len(frames)), slog.Duration("duration", time.Since(start)))
	return nil
}

func (p *Pipeline) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Ready returns whether the frames have been loaded.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Frames returns the loaded frames. The returned slice must not be
// mutated. Frames returns nil before the pipeline is ready.
func (p *Pipeline) Frames() []*frame.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Release releases all loaded frames. Frames from a load in flight are
// released when the load completes. A released pipeline cannot be reused.
func (p *Pipeline) Release() {
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.ready = false
	p.released = true
	p.mu.Unlock()
	frame.ReleaseAll(frames)
}
