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
Package controller implements the load controller: the state machine deciding
in each sampling cycle which E-cores to occupy with a busy worker, so that the
OS scheduler favors the P-cores for new and existing work.

Each E-core is either idle (no busy worker, just monitoring) or loaded (busy
worker active), independently of all other E-cores:

  - idle → loaded when the P-cores are underutilized, that is, their average
    busy fraction is below the low-water threshold, and at the same time the
    E-core is already nearly saturated by genuine work, that is, excluding the
    load of our own busy worker.
  - loaded → idle when the average P-core busy fraction rises above the
    withdraw threshold.

The two P-core thresholds differ (hysteresis), and any transition condition
must hold for a configurable number of consecutive cycles (debounce) before
the controller acts on it.

In manual mode, the controller loads all cores at and after a given start
core once and keeps them loaded until shutdown, without any monitoring.

A Controller is owned by a single go routine: all state transitions happen
inside [Controller.Run] (or explicit calls to [Controller.Evaluate] and
[Controller.Shutdown]), so no locking is needed.
*/
package controller

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/thediveo/coresteer/internal/config"
	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Status is the status of an E-core's busy worker.
type Status int

// Busy worker states; an Inactive worker corresponds with an idle core, an
// Active worker with a loaded core.
const (
	Inactive Status = iota
	Active
)

func (s Status) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Worker is an active busy worker.
type Worker interface {
	Core() topology.CoreID
	RunTime() (time.Duration, error)
	Deactivate(timeout time.Duration) error
}

// Activator starts busy workers.
type Activator interface {
	Activate(core topology.CoreID) (Worker, error)
}

// ActivatorFunc adapts a plain function to the [Activator] interface.
type ActivatorFunc func(core topology.CoreID) (Worker, error)

// Activate calls f(core).
func (f ActivatorFunc) Activate(core topology.CoreID) (Worker, error) { return f(core) }

// Sampler returns one utilization sample per core of the passed topology.
type Sampler interface {
	Sample(topo topology.Topology) []sampler.Sample
}

// Options for creating a Controller.
type Options struct {
	Control   config.Control
	Sampler   Sampler // not needed in manual mode
	Activator Activator
	Logger    *log.Logger
	// ErrorReportInterval throttles repeated sampler read error reports per
	// core; the first error of each core is always reported. Zero reports
	// only the first error of each core.
	ErrorReportInterval time.Duration
}

// workerState is the per-core record of the busy worker.
type workerState struct {
	core   topology.CoreID
	status Status
	worker Worker
	// streak counts the consecutive cycles the condition for leaving the
	// current status held.
	streak int
	// runTime is the worker's run time as of the last cycle.
	runTime time.Duration
	// residual is the run time of a worker deactivated in the last cycle
	// that still needs to be discounted from the next sample.
	residual time.Duration
}

// Controller drives the busy workers of a fixed topology.
type Controller struct {
	topo      topology.Topology
	cfg       config.Control
	sampler   Sampler
	activator Activator
	log       *log.Logger
	manual    bool
	reportIvl time.Duration

	workers []*workerState // in topology order
	latest  map[topology.CoreID]sampler.Sample
	reports map[topology.CoreID]*rate.Sometimes
}

// New returns a Controller in adaptive mode, managing one busy worker per
// E-core of the passed topology. P-cores as well as unclassified cores are
// never loaded.
func New(topo topology.Topology, opts Options) (*Controller, error) {
	if opts.Sampler == nil {
		return nil, errors.New("adaptive mode requires a sampler")
	}
	c, err := newController(topo, opts)
	if err != nil {
		return nil, err
	}
	for _, id := range topo.Efficient() {
		c.workers = append(c.workers, c.newWorkerState(id))
	}
	return c, nil
}

// NewManual returns a Controller in manual mode, loading all cores with IDs at
// or after start, regardless of their kind. It returns an
// [topology.InvalidRangeError] for a start outside the topology.
func NewManual(topo topology.Topology, start int, opts Options) (*Controller, error) {
	targets, err := topology.ManualTargets(topo, start)
	if err != nil {
		return nil, err
	}
	c, err := newController(topo, opts)
	if err != nil {
		return nil, err
	}
	c.manual = true
	for _, id := range targets {
		c.workers = append(c.workers, c.newWorkerState(id))
	}
	return c, nil
}

func newController(topo topology.Topology, opts Options) (*Controller, error) {
	if err := opts.Control.Validate(); err != nil {
		return nil, err
	}
	if opts.Activator == nil {
		return nil, errors.New("missing busy worker activator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Controller{
		topo:      topo,
		cfg:       opts.Control,
		sampler:   opts.Sampler,
		activator: opts.Activator,
		log:       logger,
		reportIvl: opts.ErrorReportInterval,
		latest:    map[topology.CoreID]sampler.Sample{},
		reports:   map[topology.CoreID]*rate.Sometimes{},
	}, nil
}

func (c *Controller) newWorkerState(id topology.CoreID) *workerState {
	return &workerState{core: id}
}

// States returns a snapshot of the status of all managed busy workers. It
// must not be called concurrently with [Controller.Run].
func (c *Controller) States() map[topology.CoreID]Status {
	states := make(map[topology.CoreID]Status, len(c.workers))
	for _, ws := range c.workers {
		states[ws.core] = ws.status
	}
	return states
}

// Latest returns the most recent non-missing sample of the specified core,
// if any. It must not be called concurrently with [Controller.Run].
func (c *Controller) Latest(core topology.CoreID) (sampler.Sample, bool) {
	s, ok := c.latest[core]
	return s, ok
}

// Run runs the controller until the context gets cancelled, then shuts down
// all busy workers. In adaptive mode, Run samples, evaluates and acts once per
// configured interval. In manual mode, Run loads all its cores right away and
// then just waits. Run returns a non-nil error only when a busy worker failed
// to terminate in time.
func (c *Controller) Run(ctx context.Context) error {
	if c.manual {
		c.loadAll()
		<-ctx.Done()
		return c.Shutdown()
	}
	if !c.topo.IsHybrid() {
		c.log.Warn("no E-cores, nothing to steer", "topology", c.topo.String())
		<-ctx.Done()
		return nil
	}
	c.log.Info("steering", "ecores", len(c.workers), "interval", c.cfg.Interval, "debounce", c.cfg.Debounce)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := c.Evaluate(c.sampler.Sample(c.topo)); err != nil {
			return errors.Join(err, c.Shutdown())
		}
		select {
		case <-ctx.Done():
			return c.Shutdown()
		case <-ticker.C:
		}
	}
}

// loadAll activates the busy workers of all managed cores (manual mode).
func (c *Controller) loadAll() {
	for _, ws := range c.workers {
		if ws.status == Inactive {
			c.activate(ws)
		}
	}
}

// Shutdown deactivates all active busy workers in parallel and waits for each
// of them to terminate. Workers failing to terminate in time are reported and
// their errors returned.
func (c *Controller) Shutdown() error {
	var g errgroup.Group
	errs := make([]error, len(c.workers))
	for idx, ws := range c.workers {
		if ws.status != Active {
			continue
		}
		g.Go(func() error {
			if err := ws.worker.Deactivate(c.cfg.JoinTimeout); err != nil {
				c.log.Error("busy worker failed to terminate", "core", ws.core, "err", err)
				errs[idx] = err
				return err
			}
			ws.worker, ws.status, ws.streak = nil, Inactive, 0
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
