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

import "time"

// Default configuration values.
const (
	DefaultInterval            = 500 * time.Millisecond
	DefaultDebounce            = 3
	DefaultPCoreLowWater       = 0.2
	DefaultPCoreWithdraw       = 0.6
	DefaultECoreHighWater      = 0.9
	DefaultJoinTimeout         = 5 * time.Second
	DefaultCapacityThreshold   = 0.8
	DefaultSysfs               = "/sys"
	DefaultProcfs              = "/proc"
	DefaultErrorReportInterval = time.Minute
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Control: Control{
			Interval:       DefaultInterval,
			Debounce:       DefaultDebounce,
			PCoreLowWater:  DefaultPCoreLowWater,
			PCoreWithdraw:  DefaultPCoreWithdraw,
			ECoreHighWater: DefaultECoreHighWater,
			JoinTimeout:    DefaultJoinTimeout,
		},
		Topology: Topology{
			CapacityThreshold: DefaultCapacityThreshold,
			Sysfs:             DefaultSysfs,
		},
		Sampler: Sampler{
			Procfs:              DefaultProcfs,
			ErrorReportInterval: DefaultErrorReportInterval,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
