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

package worker

import (
	"errors"

	"github.com/thediveo/coresteer/internal/cpus"
	"github.com/thediveo/coresteer/internal/topology"
	"golang.org/x/sys/unix"
)

// Pinner restricts the calling OS-level thread to a single core.
type Pinner interface {
	Pin(core topology.CoreID) error
}

// PriorityAdjuster lowers the scheduling priority of the calling OS-level
// thread as far as possible.
type PriorityAdjuster interface {
	Demote() error
}

// AffinityPinner pins the calling thread using sched_setaffinity(2).
type AffinityPinner struct{}

// Pin pins the calling thread to the specified core and then double-checks
// that the kernel indeed applied exactly this affinity.
func (AffinityPinner) Pin(core topology.CoreID) error {
	if err := (cpus.Set{}).AddRange(uint(core), uint(core)).PinTask(0); err != nil {
		return err
	}
	aff, err := cpus.Affinity(0)
	if err != nil {
		return err
	}
	if cpu, ok := aff.Single(); !ok || cpu != uint(core) {
		return errors.New("affinity not applied, now " + aff.String())
	}
	return nil
}

// nicest is the lowest priority a nice value can express.
const nicest = 19

// IdlePriority moves the calling thread into the SCHED_IDLE scheduling class,
// which runs only when nothing else wants the core. If that is denied, it
// falls back to the nicest nice value instead.
type IdlePriority struct{}

// Demote lowers the calling thread's priority.
func (IdlePriority) Demote() error {
	err := unix.SchedSetAttr(0, &unix.SchedAttr{Policy: unix.SCHED_IDLE}, 0)
	if err == nil {
		return nil
	}
	// On Linux, nice values are per thread, not per process.
	if nerr := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nicest); nerr != nil {
		return errors.Join(err, nerr)
	}
	return nil
}
