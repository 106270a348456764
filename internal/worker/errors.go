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
	"fmt"

	"github.com/thediveo/coresteer/internal/topology"
)

// AffinityError signals that the OS rejected pinning a busy worker to its
// core. The worker has already terminated when this error is returned.
type AffinityError struct {
	Core topology.CoreID
	Err  error
}

func (e *AffinityError) Error() string {
	return fmt.Sprintf("cannot pin busy worker to core %d: %s", e.Core, e.Err)
}

func (e *AffinityError) Unwrap() error { return e.Err }

// PriorityError signals that a busy worker could not lower its scheduling
// priority. The worker nevertheless keeps running.
type PriorityError struct {
	Core topology.CoreID
	Err  error
}

func (e *PriorityError) Error() string {
	return fmt.Sprintf("cannot lower priority of busy worker on core %d: %s", e.Core, e.Err)
}

func (e *PriorityError) Unwrap() error { return e.Err }

// ErrJoinTimeout indicates that a busy worker failed to acknowledge its
// termination in time. This is a defect, not something to retry.
var ErrJoinTimeout = errors.New("busy worker failed to terminate in time")
