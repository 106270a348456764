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

package sampler

import (
	"errors"
	"fmt"

	"github.com/thediveo/coresteer/internal/topology"
)

// ReadError signals that the busy-time counters of a particular core could not
// be read in a sampling cycle. It is never fatal: the core's sample is then
// marked as missing.
type ReadError struct {
	Core topology.CoreID
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("cannot read busy-time counters of core %d: %s", e.Core, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

var (
	// ErrNoCounters indicates that there were no counters for a core, such as
	// when the core has gone offline.
	ErrNoCounters = errors.New("no counters")
	// ErrCounterRegression indicates that a cumulative counter went backwards
	// since the previous sample.
	ErrCounterRegression = errors.New("counter regression")
)
