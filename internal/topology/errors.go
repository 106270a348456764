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

package topology

import "fmt"

// ClassificationError signals that the logical CPUs of this system could not
// be enumerated at all. It is fatal, as there is nothing to steer then.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("cannot enumerate logical CPUs: %s", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// InvalidRangeError signals a manual-mode start core outside the range of
// logical CPUs [0, Count-1].
type InvalidRangeError struct {
	Start int
	Count int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("start core %d out of range [0, %d]", e.Start, e.Count-1)
}
