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
	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"
	"golang.org/x/time/rate"
)

// Evaluate runs a single decision cycle on the passed samples, activating and
// deactivating busy workers as necessary. Missing samples leave the decision
// for their core unchanged. If there isn't a single P-core (or unclassified
// core) sample available, no core changes its status in this cycle.
//
// Evaluate returns an error only when a busy worker failed to terminate in
// time, which is a defect not to be retried.
func (c *Controller) Evaluate(samples []sampler.Sample) error {
	all := make(map[topology.CoreID]sampler.Sample, len(samples))
	current := make(map[topology.CoreID]sampler.Sample, len(samples))
	for _, s := range samples {
		all[s.Core] = s
		if s.Err != nil {
			c.reportReadError(s)
		}
		if s.Missing {
			continue
		}
		current[s.Core] = s
		c.latest[s.Core] = s
	}

	pLoad, havePLoad := c.performanceLoad(current)
	for _, ws := range c.workers {
		s, ok := current[ws.core]
		// Account the own run time in step with the sampler's baseline: a
		// sample without a window leaves the baseline untouched, so the own
		// run time must also wait for the next sample covering this span.
		var own float64
		if raw, seen := all[ws.core]; !seen || raw.Window > 0 {
			own = c.ownLoad(ws, raw)
		}
		if !ok || !havePLoad {
			continue
		}
		switch ws.status {
		case Inactive:
			c.evaluateIdle(ws, s, own, pLoad)
		case Active:
			if err := c.evaluateLoaded(ws, pLoad); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluateIdle loads an idle E-core after the P-cores have been underutilized
// and the E-core has been saturated by genuine work for enough consecutive
// cycles.
func (c *Controller) evaluateIdle(ws *workerState, s sampler.Sample, own, pLoad float64) {
	genuine := s.Busy - own
	if pLoad >= c.cfg.PCoreLowWater || genuine <= c.cfg.ECoreHighWater {
		ws.streak = 0
		return
	}
	ws.streak++
	c.log.Debug("E-core qualifies for loading",
		"core", ws.core, "pcores", pLoad, "genuine", genuine, "streak", ws.streak)
	if ws.streak < c.cfg.Debounce {
		return
	}
	ws.streak = 0
	c.activate(ws)
}

// evaluateLoaded releases a loaded E-core after the P-cores have been busy
// enough for enough consecutive cycles.
func (c *Controller) evaluateLoaded(ws *workerState, pLoad float64) error {
	if pLoad <= c.cfg.PCoreWithdraw {
		ws.streak = 0
		return nil
	}
	ws.streak++
	c.log.Debug("E-core qualifies for release",
		"core", ws.core, "pcores", pLoad, "streak", ws.streak)
	if ws.streak < c.cfg.Debounce {
		return nil
	}
	ws.streak = 0
	return c.deactivate(ws)
}

// performanceLoad returns the average busy fraction of all P-cores and
// unclassified cores that have a sample in this cycle.
func (c *Controller) performanceLoad(current map[topology.CoreID]sampler.Sample) (float64, bool) {
	var sum float64
	n := 0
	for _, id := range c.topo.Others() {
		if s, ok := current[id]; ok {
			sum += s.Busy
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ownLoad returns the busy fraction caused by our own busy worker on this
// core during the sample's window: the run time of an active worker since the
// last cycle, plus the run time of a worker deactivated in the last cycle that
// has not yet been discounted. It advances the run time baseline in any case.
func (c *Controller) ownLoad(ws *workerState, s sampler.Sample) float64 {
	own := ws.residual
	ws.residual = 0
	if ws.status == Active {
		rt, err := ws.worker.RunTime()
		if err != nil {
			c.log.Warn("cannot account busy worker run time", "core", ws.core, "err", err)
		} else {
			own += max(rt-ws.runTime, 0)
			ws.runTime = rt
		}
	}
	if s.Window <= 0 {
		return 0
	}
	return min(float64(own)/float64(s.Window), 1)
}

// activate starts the busy worker of an idle core. On failure the core stays
// idle, as an unmanaged spinning thread is worse than a missed opportunity.
func (c *Controller) activate(ws *workerState) {
	w, err := c.activator.Activate(ws.core)
	if err != nil {
		c.log.Error("cannot load core, leaving it idle", "core", ws.core, "err", err)
		return
	}
	ws.worker, ws.status = w, Active
	ws.runTime = 0
	if rt, err := w.RunTime(); err == nil {
		ws.runTime = rt
	}
	c.log.Info("core loaded", "core", ws.core)
}

// deactivate stops the busy worker of a loaded core and waits for it to
// terminate; only then the core counts as idle. The worker's final run time is
// kept for discounting it from the next sample.
func (c *Controller) deactivate(ws *workerState) error {
	if rt, err := ws.worker.RunTime(); err == nil {
		ws.residual = max(rt-ws.runTime, 0)
	}
	if err := ws.worker.Deactivate(c.cfg.JoinTimeout); err != nil {
		c.log.Error("busy worker failed to terminate", "core", ws.core, "err", err)
		return err
	}
	ws.worker, ws.status, ws.runTime = nil, Inactive, 0
	c.log.Info("core released", "core", ws.core)
	return nil
}

// reportReadError reports a sampler read error, throttled per core.
func (c *Controller) reportReadError(s sampler.Sample) {
	reports, ok := c.reports[s.Core]
	if !ok {
		reports = &rate.Sometimes{First: 1, Interval: c.reportIvl}
		c.reports[s.Core] = reports
	}
	reports.Do(func() {
		c.log.Warn("missing sample, holding decision", "core", s.Core, "err", s.Err)
	})
}
