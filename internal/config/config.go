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

// Package config provides the configuration of coresteer: defaults, loading
// from config file, environment and command line flags via viper, and
// validation.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete coresteer configuration.
type Config struct {
	Control  Control  `mapstructure:"control"`
	Topology Topology `mapstructure:"topology"`
	Sampler  Sampler  `mapstructure:"sampler"`
	Log      Log      `mapstructure:"log"`
}

// Control configures the load controller.
type Control struct {
	// Interval is the sampling cadence.
	Interval time.Duration `mapstructure:"interval"`
	// Debounce is the number of consecutive sampling cycles a transition
	// condition must hold before the controller acts on it.
	Debounce int `mapstructure:"debounce"`
	// PCoreLowWater is the average P-core busy fraction below which E-cores
	// might get loaded.
	PCoreLowWater float64 `mapstructure:"pcore_low_water"`
	// PCoreWithdraw is the average P-core busy fraction above which loaded
	// E-cores get released again. It must be above PCoreLowWater.
	PCoreWithdraw float64 `mapstructure:"pcore_withdraw"`
	// ECoreHighWater is the busy fraction caused by genuine work an E-core
	// must exceed to get loaded.
	ECoreHighWater float64 `mapstructure:"ecore_high_water"`
	// JoinTimeout bounds waiting for a busy worker to terminate.
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

// Topology configures core discovery and classification.
type Topology struct {
	// CapacityThreshold is the relative performance below which a core is
	// considered to be an E-core.
	CapacityThreshold float64 `mapstructure:"capacity_threshold"`
	Sysfs             string  `mapstructure:"sysfs"`
}

// Sampler configures utilization sampling.
type Sampler struct {
	Procfs string `mapstructure:"procfs"`
	// ErrorReportInterval throttles repeated read error reports.
	ErrorReportInterval time.Duration `mapstructure:"error_report_interval"`
}

// Log configures logging.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the configuration, returning all violations at once.
func (c Config) Validate() error {
	errs := []error{c.Control.Validate()}
	if c.Topology.CapacityThreshold < 0 || c.Topology.CapacityThreshold > 1 {
		errs = append(errs, invalid("topology.capacity_threshold must be in [0, 1], got %g",
			c.Topology.CapacityThreshold))
	}
	if c.Sampler.ErrorReportInterval < 0 {
		errs = append(errs, invalid("sampler.error_report_interval must not be negative, got %s",
			c.Sampler.ErrorReportInterval))
	}
	return errors.Join(errs...)
}

// Validate checks the controller settings, returning all violations at once.
// The withdraw threshold must lie strictly above the low-water threshold, so
// that there is a band of P-core utilization where no transition fires.
func (c Control) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, invalid("control.interval must be positive, got %s", c.Interval))
	}
	if c.JoinTimeout <= 0 {
		errs = append(errs, invalid("control.join_timeout must be positive, got %s", c.JoinTimeout))
	}
	if c.Debounce < 1 {
		errs = append(errs, invalid("control.debounce must be at least 1, got %d", c.Debounce))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"control.pcore_low_water", c.PCoreLowWater},
		{"control.pcore_withdraw", c.PCoreWithdraw},
		{"control.ecore_high_water", c.ECoreHighWater},
	} {
		if f.value < 0 || f.value > 1 {
			errs = append(errs, invalid("%s must be in [0, 1], got %g", f.name, f.value))
		}
	}
	if c.PCoreWithdraw <= c.PCoreLowWater {
		errs = append(errs, invalid("control.pcore_withdraw (%g) must be above control.pcore_low_water (%g)",
			c.PCoreWithdraw, c.PCoreLowWater))
	}
	return errors.Join(errs...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}
