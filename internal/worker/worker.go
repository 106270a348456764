// Copyright 2024 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy
// of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

/*
Package worker implements busy workers: core-pinned OS-level threads that
spin at the lowest scheduling priority, occupying "their" core without ever
yielding voluntarily. The OS thus sees the core as busy and prefers other
cores when placing work, while any other ready task on the same core still
preempts the worker.

A busy worker stops cooperatively: [Handle.Deactivate] raises an atomic stop
flag that the worker checks in each spin loop iteration.
*/
package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"
	"golang.org/x/sys/unix"
)

// Spawner activates busy workers. Zero fields use the Linux defaults and the
// default logger.
type Spawner struct {
	Pinner   Pinner
	Priority PriorityAdjuster
	Procfs   string
	Logger   *log.Logger
}

// Handle refers to an active busy worker.
type Handle struct {
	core   topology.CoreID
	procfs string
	tid    int
	stop   atomic.Bool
	done   chan struct{}
}

// Activate starts a new busy worker on the specified core and returns as soon
// as the worker runs pinned to this core. If pinning fails, Activate returns
// an [AffinityError] after the worker has terminated. Failing to lower the
// worker's priority is only logged as a [PriorityError], as pinning does the
// actual work.
func (s *Spawner) Activate(core topology.CoreID) (*Handle, error) {
	h := &Handle{
		core:   core,
		procfs: s.Procfs,
		done:   make(chan struct{}),
	}
	started := make(chan error, 1)
	go h.run(s, started)
	if err := <-started; err != nil {
		<-h.done
		return nil, err
	}
	return h, nil
}

func (h *Handle) run(s *Spawner, started chan<- error) {
	defer close(h.done)
	// Never unlock: with its affinity and priority changed, the thread is
	// thrown away when this go routine ends.
	runtime.LockOSThread()
	h.tid = unix.Gettid()

	var pinner Pinner = AffinityPinner{}
	if s.Pinner != nil {
		pinner = s.Pinner
	}
	if err := pinner.Pin(h.core); err != nil {
		started <- &AffinityError{Core: h.core, Err: err}
		return
	}
	var priority PriorityAdjuster = IdlePriority{}
	if s.Priority != nil {
		priority = s.Priority
	}
	if err := priority.Demote(); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Warn("busy worker keeps default priority",
			"core", h.core, "err", &PriorityError{Core: h.core, Err: err})
	}
	started <- nil
	spin(&h.stop)
}

// spin burns CPU cycles until stop is set; no I/O, no allocations, no
// blocking.
func spin(stop *atomic.Bool) {
	for !stop.Load() {
	}
}

// Core returns the core this worker is pinned to.
func (h *Handle) Core() topology.CoreID { return h.core }

// RunTime returns the cumulative on-CPU time of this worker.
func (h *Handle) RunTime() (time.Duration, error) {
	return sampler.ThreadRunTime(h.procfs, h.tid)
}

// Deactivate tells the worker to stop and waits for it to terminate, but not
// longer than the specified timeout; then it returns an error wrapping
// [ErrJoinTimeout]. Deactivating an already deactivated worker immediately
// succeeds.
func (h *Handle) Deactivate(timeout time.Duration) error {
	h.stop.Store(true)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("core %d: %w", h.core, ErrJoinTimeout)
	}
}
