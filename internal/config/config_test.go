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

package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("configuration", func() {

	It("has valid defaults", func() {
		Expect(Defaults().Validate()).To(Succeed())
	})

	DescribeTable("rejecting invalid settings",
		func(mutate func(*Config), msg string) {
			cfg := Defaults()
			mutate(&cfg)
			err := cfg.Validate()
			Expect(err).To(MatchError(ErrInvalid))
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry(nil, func(c *Config) { c.Control.Interval = 0 }, "control.interval"),
		Entry(nil, func(c *Config) { c.Control.JoinTimeout = -time.Second }, "control.join_timeout"),
		Entry(nil, func(c *Config) { c.Control.Debounce = 0 }, "control.debounce"),
		Entry(nil, func(c *Config) { c.Control.ECoreHighWater = 1.5 }, "control.ecore_high_water"),
		Entry(nil, func(c *Config) { c.Topology.CapacityThreshold = -0.1 }, "topology.capacity_threshold"),
		Entry("shared threshold", func(c *Config) { c.Control.PCoreWithdraw = c.Control.PCoreLowWater }, "must be above"),
		Entry("inverted thresholds", func(c *Config) { c.Control.PCoreWithdraw = 0.1 }, "must be above"),
		Entry(nil, func(c *Config) { c.Sampler.ErrorReportInterval = -time.Second }, "error_report_interval"),
	)

	When("loading", func() {

		BeforeEach(func() {
			home := GinkgoT().TempDir()
			GinkgoT().Setenv("HOME", home)
			GinkgoT().Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))
		})

		It("returns the defaults without any config file", func() {
			v := Successful(NewViper(""))
			Expect(Load(v)).To(Equal(Defaults()))
		})

		It("reads the default config file", func() {
			dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "coresteer")
			Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "config.yaml"),
				[]byte("control:\n  debounce: 5\n"), 0o644)).To(Succeed())
			cfg := Successful(Load(Successful(NewViper(""))))
			Expect(cfg.Control.Debounce).To(Equal(5))
		})

		It("reads an explicit config file and lets the environment override it", func() {
			path := filepath.Join(GinkgoT().TempDir(), "steer.yaml")
			Expect(os.WriteFile(path, []byte(`
control:
  interval: 250ms
  pcore_low_water: 0.1
  pcore_withdraw: 0.7
log:
  level: debug
`), 0o644)).To(Succeed())
			GinkgoT().Setenv("CORESTEER_CONTROL_PCORE_WITHDRAW", "0.8")

			cfg := Successful(Load(Successful(NewViper(path))))
			Expect(cfg.Control.Interval).To(Equal(250 * time.Millisecond))
			Expect(cfg.Control.PCoreLowWater).To(Equal(0.1))
			Expect(cfg.Control.PCoreWithdraw).To(Equal(0.8))
			Expect(cfg.Control.Debounce).To(Equal(DefaultDebounce))
			Expect(cfg.Log.Level).To(Equal("debug"))
		})

		It("fails on a missing explicit config file", func() {
			Expect(NewViper(filepath.Join(GinkgoT().TempDir(), "nada.yaml"))).Error().To(HaveOccurred())
		})

		It("fails on invalid values", func() {
			GinkgoT().Setenv("CORESTEER_CONTROL_DEBOUNCE", "0")
			Expect(Load(Successful(NewViper("")))).Error().To(MatchError(ErrInvalid))
		})

	})

})
