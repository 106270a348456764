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

import (
	"errors"
	"path/filepath"

	"github.com/thediveo/coresteer/internal/cpus"
)

// DefaultSysfs is the usual sysfs mount point.
const DefaultSysfs = "/sys"

// Enumerator returns the list of online logical CPUs.
type Enumerator interface {
	Online() (cpus.List, error)
}

// CoreClassifier classifies the passed online cores. If the platform lacks the
// data a particular classifier relies on, or the data shows a uniform
// (non-hybrid) system, Classify returns ok false. Cores missing from a
// classification are considered to be of Unknown kind.
type CoreClassifier interface {
	Classify(online []CoreID) (kinds map[CoreID]CoreKind, ok bool, err error)
}

// SysfsEnumerator enumerates the online CPUs using
// “<root>/devices/system/cpu/online”.
type SysfsEnumerator struct {
	Root string
}

// Online returns the list of online CPUs.
func (e SysfsEnumerator) Online() (cpus.List, error) {
	return cpus.ReadList(filepath.Join(sysfsRoot(e.Root), "devices/system/cpu/online"))
}

// Discover enumerates the online logical CPUs and then classifies them using
// the first applicable classifier in the order passed. If no classifier
// applies, all cores are of Unknown kind. Discover returns a
// [ClassificationError] if the cores cannot be enumerated at all.
//
// A classifier failing with an error is treated the same as a classifier not
// applicable, as there are still the following classifiers as well as the
// Unknown fallback; the errors are returned alongside a valid Topology so that
// callers can report them.
func Discover(enum Enumerator, classifiers ...CoreClassifier) (Topology, error) {
	online, err := enum.Online()
	if err != nil {
		return Topology{}, &ClassificationError{Err: err}
	}
	if online.Len() == 0 {
		return Topology{}, &ClassificationError{Err: errors.New("no online CPUs")}
	}
	ids := make([]CoreID, 0, online.Len())
	for cpu := range online.All() {
		ids = append(ids, CoreID(cpu))
	}

	var errs []error
	kinds := map[CoreID]CoreKind{}
	for _, classifier := range classifiers {
		k, ok, err := classifier.Classify(ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			kinds = k
			break
		}
	}

	cores := make([]Core, 0, len(ids))
	for _, id := range ids {
		cores = append(cores, Core{ID: id, Kind: kinds[id]})
	}
	return New(cores...), errors.Join(errs...)
}

// SysfsClassifiers returns the sysfs-based classifiers in their order of
// preference: hybrid PMU CPU lists, CPU capacities, and finally maximum CPU
// frequencies.
func SysfsClassifiers(root string, threshold float64) []CoreClassifier {
	return []CoreClassifier{
		HybridPMUClassifier{Root: root},
		CapacityClassifier{Root: root, Threshold: threshold},
		FrequencyClassifier{Root: root, Threshold: threshold},
	}
}

func sysfsRoot(root string) string {
	if root == "" {
		return DefaultSysfs
	}
	return root
}
