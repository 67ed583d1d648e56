// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock provides per-refresh callback scheduling.
package clock

import (
	"sync"
	"time"
)

// Clock schedules callbacks for the next display refresh.
type Clock interface {
	// Request schedules fn to be called once at the next refresh
	// with the refresh timestamp. The returned function cancels the
	// request if it has not yet run. Implementations must not call
	// fn synchronously from Request.
	Request(fn func(now time.Time)) (cancel func())
	// Now returns the clock's current time on the same time base
	// as the timestamps passed to requested callbacks.
	Now() time.Time
}

// DefaultPeriod is the refresh period used by a Timer with a zero period.
const DefaultPeriod = time.Second / 60

// Timer is a Clock driven by the system timer.
type Timer struct {
	// Period is the refresh period. Zero uses DefaultPeriod.
	Period time.Duration
}

func (t Timer) Request(fn func(time.Time)) func() {
	p := t.Period
	if p <= 0 {
		p = DefaultPeriod
	}
	tm := time.AfterFunc(p, func() { fn(time.Now()) })
	return func() { tm.Stop() }
}

func (Timer) Now() time.Time { return time.Now() }

// Manual is a Clock that is advanced explicitly. It is intended for
// deterministic driving of schedules.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	next    uint64
	pending map[uint64]func(time.Time)
	order   []uint64
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, pending: make(map[uint64]func(time.Time))}
}

func (m *Manual) Request(fn func(time.Time)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.pending[id] = fn
	m.order = append(m.order, id)
	return func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}
}

// Now returns the current time of the clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of outstanding requests.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Advance moves the clock forward by d and runs the callbacks that were
// pending at the time of the call in request order. Callbacks requested
// while running are deferred to the next Advance. Advance returns the
// number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	order := m.order
	m.order = nil
	var run []func(time.Time)
	for _, id := range order {
		fn, ok := m.pending[id]
		if !ok {
			continue
		}
		delete(m.pending, id)
		run = append(run, fn)
	}
	m.mu.Unlock()

	for _, fn := range run {
		fn(now)
	}
	return len(run)
}
