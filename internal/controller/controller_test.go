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
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/thediveo/coresteer/internal/config"
	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/success"
)

// hybrid8 has four E-cores 0-3 and four P-cores 4-7.
var hybrid8 = topology.New(
	topology.Core{ID: 0, Kind: topology.Efficient}, topology.Core{ID: 1, Kind: topology.Efficient},
	topology.Core{ID: 2, Kind: topology.Efficient}, topology.Core{ID: 3, Kind: topology.Efficient},
	topology.Core{ID: 4, Kind: topology.Performance}, topology.Core{ID: 5, Kind: topology.Performance},
	topology.Core{ID: 6, Kind: topology.Performance}, topology.Core{ID: 7, Kind: topology.Performance},
)

func control() config.Control {
	ctrl := config.Defaults().Control
	ctrl.Interval = 10 * time.Millisecond
	ctrl.JoinTimeout = time.Second
	return ctrl
}

var _ = Describe("load controller", func() {

	var (
		activator *fakeActivator
		c         *Controller
	)

	BeforeEach(func() {
		activator = newFakeActivator()
		c = Successful(New(hybrid8, Options{
			Control:   control(),
			Sampler:   &fakeSampler{},
			Activator: activator,
			Logger:    log.New(GinkgoWriter),
		}))
	})

	status := func(core topology.CoreID) Status {
		GinkgoHelper()
		return c.States()[core]
	}

	cycle := func(ebusy, pbusy float64) {
		GinkgoHelper()
		Expect(c.Evaluate(samples(ebusy, pbusy))).To(Succeed())
	}

	It("manages only E-cores", func() {
		Expect(c.States()).To(Equal(map[topology.CoreID]Status{
			0: Inactive, 1: Inactive, 2: Inactive, 3: Inactive,
		}))
	})

	It("refuses invalid settings", func() {
		ctrl := control()
		ctrl.PCoreWithdraw = ctrl.PCoreLowWater
		Expect(New(hybrid8, Options{Control: ctrl, Sampler: &fakeSampler{}, Activator: activator})).Error().
			To(MatchError(config.ErrInvalid))
		Expect(New(hybrid8, Options{Control: control(), Activator: activator})).Error().
			To(HaveOccurred())
		Expect(New(hybrid8, Options{Control: control(), Sampler: &fakeSampler{}})).Error().
			To(HaveOccurred())
	})

	It("loads a saturated E-core while P-cores idle, and releases it when P-cores get busy", func() {
		cycle(0.95, 0.1)
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Inactive))
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Active))
		Expect(activator.activations).To(Equal([]topology.CoreID{0}))
		Expect(status(1)).To(Equal(Inactive))

		cycle(1.0, 0.7)
		cycle(1.0, 0.7)
		Expect(status(0)).To(Equal(Active))
		cycle(1.0, 0.7)
		Expect(status(0)).To(Equal(Inactive))
		Expect(activator.deactivations).To(Equal([]topology.CoreID{0}))
		Expect(activator.ActiveCores()).To(BeZero())

		s, ok := c.Latest(0)
		Expect(ok).To(BeTrue())
		Expect(s.Busy).To(Equal(1.0))
	})

	It("restarts debouncing when the condition breaks", func() {
		cycle(0.95, 0.1)
		cycle(0.95, 0.1)
		cycle(0.95, 0.3) // P-cores not idle enough
		cycle(0.95, 0.1)
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Inactive))
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Active))
	})

	It("neither loads nor releases inside the hysteresis band", func() {
		for range 10 {
			cycle(0.95, 0.4)
		}
		Expect(status(0)).To(Equal(Inactive))
		for range 3 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Active))
		for range 10 {
			cycle(1.0, 0.4)
		}
		Expect(status(0)).To(Equal(Active))
	})

	It("does not flap on an E-core oscillating around the high-water mark", func() {
		for idx := range 30 {
			cycle([]float64{0.85, 0.92}[idx%2], 0.1)
		}
		Expect(activator.activations).To(BeEmpty())
	})

	It("makes at most one transition per debounce window", func() {
		rng := rand.New(rand.NewPCG(42, 666))
		var transitions []int
		prev := status(0)
		for idx := range 3000 {
			ebusy := 0.8 + 0.2*rng.Float64()
			pbusy := []float64{0.05, 0.1, 0.4, 0.7, 0.9}[rng.IntN(5)]
			cycle(ebusy, pbusy)
			if now := status(0); now != prev {
				transitions = append(transitions, idx)
				prev = now
			}
		}
		Expect(transitions).NotTo(BeEmpty())
		for idx := 1; idx < len(transitions); idx++ {
			Expect(transitions[idx] - transitions[idx-1]).To(BeNumerically(">=", 3))
		}
		Expect(len(activator.activations) - len(activator.deactivations)).To(BeElementOf(0, 1))
	})

	It("holds the decision for missing samples", func() {
		missing := func(ss []sampler.Sample, cores ...topology.CoreID) []sampler.Sample {
			for idx := range ss {
				for _, core := range cores {
					if ss[idx].Core == core {
						ss[idx].Missing = true
						ss[idx].Err = &sampler.ReadError{Core: core, Err: sampler.ErrNoCounters}
					}
				}
			}
			return ss
		}
		cycle(0.95, 0.1)
		Expect(c.Evaluate(missing(samples(0.2, 0.1), 0))).To(Succeed())
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Inactive))
		Expect(c.Evaluate(missing(samples(0.95, 0.1), 4, 5, 6, 7))).To(Succeed())
		Expect(status(0)).To(Equal(Inactive))
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Active))
	})

	It("leaves a core idle when its worker cannot be activated", func() {
		activator.failing[0] = errors.New("D'OH!")
		for range 3 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Inactive))
		delete(activator.failing, 0)
		for range 2 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Inactive))
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Active))
	})

	It("discounts the load of a just-released worker", func() {
		for range 3 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Active))
		w := activator.active[0]
		for range 3 {
			activator.spin(0, window)
			cycle(1.0, 0.7)
		}
		Expect(status(0)).To(Equal(Inactive))
		Expect(w.runTime).To(Equal(3 * window))

		// the worker still ran after its last sample.
		c.workers[0].residual = window
		for range 3 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Inactive))
		cycle(0.95, 0.1)
		Expect(status(0)).To(Equal(Active))
	})

	It("discounts the run time of an active worker", func() {
		for range 3 {
			cycle(0.95, 0.1)
		}
		activator.spin(0, window/2)
		own := c.ownLoad(c.workers[0], sampler.Sample{Core: 0, Window: window})
		Expect(own).To(BeNumerically("~", 0.5, 1e-9))
		Expect(c.ownLoad(c.workers[0], sampler.Sample{Core: 0, Window: window})).To(BeZero())
		Expect(c.ownLoad(c.workers[1], sampler.Sample{Core: 1})).To(BeZero())
	})

	It("holds the own run time while the counters cannot be read", func() {
		for range 3 {
			cycle(0.95, 0.1)
		}
		Expect(status(0)).To(Equal(Active))
		activator.spin(0, window)

		unreadable := samples(0, 0)
		for idx := range unreadable {
			unreadable[idx].Missing = true
			unreadable[idx].Window = 0
			unreadable[idx].Err = errors.New("D'OH!")
		}
		Expect(c.Evaluate(unreadable)).To(Succeed())
		Expect(c.workers[0].runTime).To(BeZero())

		activator.spin(0, window)
		Expect(c.ownLoad(c.workers[0], sampler.Sample{Core: 0, Window: 2 * window})).
			To(BeNumerically("~", 1.0, 1e-9))
	})

	It("reports read errors once per core", func() {
		var buff bytes.Buffer
		c.log = log.New(&buff)
		for range 3 {
			ss := samples(0.95, 0.1)
			ss[1].Missing, ss[1].Err = true, &sampler.ReadError{Core: 1, Err: sampler.ErrNoCounters}
			ss[5].Missing, ss[5].Err = true, &sampler.ReadError{Core: 5, Err: sampler.ErrNoCounters}
			Expect(c.Evaluate(ss)).To(Succeed())
		}
		Expect(strings.Count(buff.String(), "missing sample")).To(Equal(2))
	})

	It("stops when a worker fails to terminate", func() {
		activator.stuck = true
		for range 3 {
			cycle(0.95, 0.1)
		}
		for range 2 {
			cycle(1.0, 0.7)
		}
		Expect(c.Evaluate(samples(1.0, 0.7))).To(MatchError("stuck worker"))
		Expect(status(0)).To(Equal(Active))
		Expect(c.Shutdown()).To(MatchError("stuck worker"))
	})

	It("has nothing to do without E-cores", func() {
		var buff bytes.Buffer
		uniform := topology.New(topology.Core{ID: 0}, topology.Core{ID: 1})
		c := Successful(New(uniform, Options{
			Control:   control(),
			Sampler:   &fakeSampler{},
			Activator: activator,
			Logger:    log.New(&buff),
		}))
		Expect(c.States()).To(BeEmpty())
		Expect(c.Evaluate([]sampler.Sample{{Core: 0, Busy: 1}, {Core: 1, Busy: 0}})).To(Succeed())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(c.Run(ctx)).To(Succeed())
		Expect(activator.activations).To(BeEmpty())
		Expect(buff.String()).To(ContainSubstring("no E-cores, nothing to steer"))
	})

})

var _ = Describe("running the load controller", func() {

	BeforeEach(func() {
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).Within(2 * time.Second).ProbeEvery(50 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
		})
	})

	run := func(c *Controller) (cancel func(), done <-chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			ch <- c.Run(ctx)
		}()
		return cancel, ch
	}

	It("loads and on shutdown releases E-cores in adaptive mode", func() {
		activator := newFakeActivator()
		fs := &fakeSampler{busy: func(_ int, core topology.CoreID) float64 {
			switch core {
			case 0, 1:
				return 0.95
			case 2, 3:
				return 0.5
			}
			return 0.05
		}}
		c := Successful(New(hybrid8, Options{
			Control:   control(),
			Sampler:   fs,
			Activator: activator,
			Logger:    log.New(GinkgoWriter),
		}))
		cancel, done := run(c)
		Eventually(activator.ActiveCores).Within(2 * time.Second).ProbeEvery(10 * time.Millisecond).
			Should(Equal(2))
		Consistently(activator.ActiveCores).Within(50 * time.Millisecond).Should(Equal(2))
		Expect(fs.Cycles()).To(BeNumerically(">=", 3))

		cancel()
		Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		Expect(activator.ActiveCores()).To(BeZero())
		Expect(c.States()).To(HaveEach(Inactive))
		Expect(activator.activations).To(ConsistOf(topology.CoreID(0), topology.CoreID(1)))
	})

	It("loads cores from the start core on in manual mode", func() {
		activator := newFakeActivator()
		c := Successful(NewManual(hybrid8, 4, Options{
			Control:   control(),
			Activator: activator,
			Logger:    log.New(GinkgoWriter),
		}))
		cancel, done := run(c)
		Eventually(activator.ActiveCores).Within(time.Second).ProbeEvery(10 * time.Millisecond).
			Should(Equal(4))
		Consistently(activator.ActiveCores).Within(50 * time.Millisecond).Should(Equal(4))

		cancel()
		Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		Expect(activator.activations).To(ConsistOf(
			topology.CoreID(4), topology.CoreID(5), topology.CoreID(6), topology.CoreID(7)))
		Expect(activator.deactivations).To(HaveLen(4))
		Expect(c.States()).To(Equal(map[topology.CoreID]Status{
			4: Inactive, 5: Inactive, 6: Inactive, 7: Inactive,
		}))
	})

	It("rejects an out-of-range manual start core", func() {
		_, err := NewManual(hybrid8, 8, Options{Control: control(), Activator: newFakeActivator()})
		var rerr *topology.InvalidRangeError
		Expect(errors.As(err, &rerr)).To(BeTrue())
	})

})
