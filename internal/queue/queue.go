// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package queue provides a strictly ordered asynchronous task queue.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Queue runs tasks one at a time in the order they were enqueued.
// A failing task does not prevent later tasks from running.
type Queue[T any] struct {
	mu sync.Mutex
	// tail is closed when the most recently
	// enqueued task has completed.
	tail chan struct{}
}

// Pending is the outcome of an enqueued task.
type Pending[T any] struct {
	done chan struct{}
	val  T
}

// Enqueue appends fn to the queue. If fn returns a non-nil error or
// panics, the outcome of the task is the value returned by fallback
// called with the failure. fallback is called on the queue's goroutine
// before the next task starts.
func (q *Queue[T]) Enqueue(fn func() (T, error), fallback func(error) T) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	q.mu.Lock()
	prev := q.tail
	q.tail = p.done
	q.mu.Unlock()

	go func() {
		defer close(p.done)
		if prev != nil {
			<-prev
		}
		v, err := run(fn)
		if err != nil {
			v = fallback(err)
		}
		p.val = v
	}()
	return p
}

func run[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Wait waits for the most recently enqueued task to complete.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait waits for the task to complete and returns its outcome. The
// returned error is non-nil only if ctx is done before the task
// completes.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed when the task has completed.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Resolved returns a Pending that is already complete with the value v.
func Resolved[T any](v T) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{}), val: v}
	close(p.done)
	return p
}
