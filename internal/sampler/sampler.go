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
Package sampler periodically measures the busy fraction of each logical CPU.

A [Sample] always covers the time span since the previous sample, as it is
the difference of cumulative busy-time counters and never an instantaneous
reading. This way neither the measurement itself nor short bursts of activity
of neighboring tasks skew the result. Cores that host a busy worker of our own
are measured just like any other core; discounting this self-induced load is
left to the controller.
*/
package sampler

import (
	"time"

	"github.com/thediveo/coresteer/internal/topology"
)

// Sample is the busy fraction of a single core over the sampling window
// ending at Timestamp. Missing samples carry no valid busy fraction; if
// missing because of a read failure, Err tells why. A zero Window means that
// the sample does not cover any time span: the next sample then starts from
// the same baseline.
type Sample struct {
	Core      topology.CoreID
	Busy      float64 // in [0.0, 1.0]
	Timestamp time.Time
	Window    time.Duration
	Missing   bool
	Err       error
}

// Sampler turns cumulative counters into per-core busy fractions. A Sampler
// keeps the previous counters as its baseline and thus must not be used
// concurrently.
type Sampler struct {
	source CounterSource
	now    func() time.Time

	prev   map[topology.CoreID]Counters
	prevAt time.Time
}

// New returns a new Sampler reading its counters from the specified source.
func New(source CounterSource) *Sampler {
	return &Sampler{
		source: source,
		now:    time.Now,
		prev:   map[topology.CoreID]Counters{},
	}
}

// Sample returns one sample per core of the passed topology, in topology
// order. The very first call only establishes the baseline, so all its samples
// are missing (but without error). Cores without counters, or with counters
// going backwards, are missing with a [ReadError]. If reading the counters
// fails altogether, all samples are missing with the same ReadError and a zero
// Window, and the baseline is kept, so that the next successful sample covers
// the whole span since the last successful one.
func (s *Sampler) Sample(topo topology.Topology) []Sample {
	now := s.now()
	counters, err := s.source.Counters()
	var window time.Duration
	if !s.prevAt.IsZero() {
		window = now.Sub(s.prevAt)
	}

	samples := make([]Sample, 0, topo.Len())
	next := make(map[topology.CoreID]Counters, topo.Len())
	for _, id := range topo.IDs() {
		smpl := Sample{Core: id, Timestamp: now, Window: window, Missing: true}
		if err != nil {
			smpl.Err = &ReadError{Core: id, Err: err}
			smpl.Window = 0
			samples = append(samples, smpl)
			continue
		}
		cur, ok := counters[id]
		if !ok {
			smpl.Err = &ReadError{Core: id, Err: ErrNoCounters}
			samples = append(samples, smpl)
			continue
		}
		next[id] = cur
		prev, primed := s.prev[id]
		switch {
		case !primed:
		case cur.Total < prev.Total || cur.Busy < prev.Busy:
			smpl.Err = &ReadError{Core: id, Err: ErrCounterRegression}
		case cur.Total == prev.Total:
			// less than a tick has passed; nothing to tell yet.
		default:
			smpl.Missing = false
			smpl.Busy = min(max(float64(cur.Busy-prev.Busy)/float64(cur.Total-prev.Total), 0), 1)
		}
		samples = append(samples, smpl)
	}
	if err == nil {
		s.prev = next
		s.prevAt = now
	}
	return samples
}
