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

package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"

	. "github.com/onsi/ginkgo/v2"
)

// fakeWorker is a busy worker that doesn't burn any CPU cycles.
type fakeWorker struct {
	core      topology.CoreID
	activator *fakeActivator
	runTime   time.Duration
	stuck     bool
}

func (w *fakeWorker) Core() topology.CoreID { return w.core }

func (w *fakeWorker) RunTime() (time.Duration, error) {
	w.activator.mu.Lock()
	defer w.activator.mu.Unlock()
	return w.runTime, nil
}

func (w *fakeWorker) Deactivate(time.Duration) error {
	if w.stuck {
		return errors.New("stuck worker")
	}
	a := w.activator
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[w.core] != w {
		Fail("deactivating an inactive worker")
	}
	delete(a.active, w.core)
	a.deactivations = append(a.deactivations, w.core)
	return nil
}

// fakeActivator keeps track of the active fake workers and fails on double
// activations.
type fakeActivator struct {
	mu            sync.Mutex
	active        map[topology.CoreID]*fakeWorker
	activations   []topology.CoreID
	deactivations []topology.CoreID
	failing       map[topology.CoreID]error
	stuck         bool
}

func newFakeActivator() *fakeActivator {
	return &fakeActivator{
		active:  map[topology.CoreID]*fakeWorker{},
		failing: map[topology.CoreID]error{},
	}
}

func (a *fakeActivator) Activate(core topology.CoreID) (Worker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failing[core]; err != nil {
		return nil, err
	}
	if _, ok := a.active[core]; ok {
		Fail("double activation")
	}
	w := &fakeWorker{core: core, activator: a, stuck: a.stuck}
	a.active[core] = w
	a.activations = append(a.activations, core)
	return w, nil
}

// ActiveCores returns the number of currently active fake workers.
func (a *fakeActivator) ActiveCores() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// spin adds run time to the active worker of the specified core.
func (a *fakeActivator) spin(core topology.CoreID, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.active[core]; ok {
		w.runTime += d
	}
}

// fakeSampler returns the samples produced by its func, or all-missing
// samples if there's no func.
type fakeSampler struct {
	mu     sync.Mutex
	cycles int
	busy   func(cycle int, core topology.CoreID) float64
}

func (f *fakeSampler) Sample(topo topology.Topology) []sampler.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	samples := make([]sampler.Sample, 0, topo.Len())
	for _, id := range topo.IDs() {
		s := sampler.Sample{Core: id, Timestamp: time.Now(), Window: window}
		if f.busy == nil {
			s.Missing = true
		} else {
			s.Busy = f.busy(f.cycles, id)
		}
		samples = append(samples, s)
	}
	return samples
}

func (f *fakeSampler) Cycles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

const window = 500 * time.Millisecond

// samples returns a full cycle of samples for 4 E-cores 0-3 and 4 P-cores
// 4-7, with E-core 0 at ebusy, all other E-cores idle, and all P-cores at
// pbusy.
func samples(ebusy, pbusy float64) []sampler.Sample {
	ss := make([]sampler.Sample, 0, 8)
	for id := range topology.CoreID(8) {
		s := sampler.Sample{Core: id, Window: window}
		switch {
		case id == 0:
			s.Busy = ebusy
		case id >= 4:
			s.Busy = pbusy
		}
		ss = append(ss, s)
	}
	return ss
}
