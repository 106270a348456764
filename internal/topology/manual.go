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

// ManualTargets returns the cores to load in manual mode: all cores with an ID
// at or after the start core, regardless of their kind. It returns an
// [InvalidRangeError] if start isn't in [0, core count-1].
func ManualTargets(t Topology, start int) ([]CoreID, error) {
	if start < 0 || start >= t.Len() {
		return nil, &InvalidRangeError{Start: start, Count: t.Len()}
	}
	return t.filter(func(c Core) bool { return c.ID >= CoreID(start) }), nil
}
