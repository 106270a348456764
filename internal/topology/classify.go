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
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/thediveo/coresteer/internal/cpus"
	"github.com/thediveo/faf"
)

// HybridPMUClassifier classifies cores on Intel hybrid systems, where the
// kernel registers separate PMUs for the two core types, each listing its
// CPUs: “<root>/devices/cpu_atom/cpus” for the E-cores and
// “<root>/devices/cpu_core/cpus” for the P-cores.
type HybridPMUClassifier struct {
	Root string
}

// Classify returns the core kinds according to the hybrid PMU CPU lists.
func (c HybridPMUClassifier) Classify(online []CoreID) (map[CoreID]CoreKind, bool, error) {
	root := sysfsRoot(c.Root)
	atoms, err := cpus.ReadList(filepath.Join(root, "devices/cpu_atom/cpus"))
	if err != nil {
		return nil, false, ignoreNotExist(err)
	}
	cores, err := cpus.ReadList(filepath.Join(root, "devices/cpu_core/cpus"))
	if err != nil {
		return nil, false, ignoreNotExist(err)
	}
	atomset := atoms.Set()
	coreset := cores.Set()
	kinds := make(map[CoreID]CoreKind, len(online))
	for _, id := range online {
		switch {
		case atomset.IsSet(uint(id)):
			kinds[id] = Efficient
		case coreset.IsSet(uint(id)):
			kinds[id] = Performance
		}
	}
	return kinds, isHybrid(kinds), nil
}

// CapacityClassifier classifies cores by their relative CPU capacity
// “<root>/devices/system/cpu/cpuN/cpu_capacity”, as found on arm big.LITTLE
// and DynamIQ systems. Cores with a capacity below Threshold times the
// largest capacity are E-cores.
type CapacityClassifier struct {
	Root      string
	Threshold float64
}

// Classify returns the core kinds according to the relative CPU capacities.
func (c CapacityClassifier) Classify(online []CoreID) (map[CoreID]CoreKind, bool, error) {
	return classifyRelative(online, c.Threshold, func(id CoreID) string {
		return filepath.Join(sysfsRoot(c.Root), "devices/system/cpu",
			"cpu"+strconv.FormatUint(uint64(id), 10), "cpu_capacity")
	})
}

// FrequencyClassifier classifies cores by their relative maximum frequency
// “<root>/devices/system/cpu/cpuN/cpufreq/cpuinfo_max_freq”. Cores with a
// maximum frequency below Threshold times the highest maximum frequency are
// E-cores. Favored P-cores differ from other P-cores only by a few percent,
// so a sensible Threshold stays well below 1.
type FrequencyClassifier struct {
	Root      string
	Threshold float64
}

// Classify returns the core kinds according to the relative maximum
// frequencies.
func (c FrequencyClassifier) Classify(online []CoreID) (map[CoreID]CoreKind, bool, error) {
	return classifyRelative(online, c.Threshold, func(id CoreID) string {
		return filepath.Join(sysfsRoot(c.Root), "devices/system/cpu",
			"cpu"+strconv.FormatUint(uint64(id), 10), "cpufreq/cpuinfo_max_freq")
	})
}

// classifyRelative reads a per-core performance hint and labels all cores
// with a hint below threshold times the maximum hint as E-cores, and the
// others as P-cores. If any core lacks its hint, the hints are not
// applicable.
func classifyRelative(online []CoreID, threshold float64, path func(CoreID) string) (map[CoreID]CoreKind, bool, error) {
	hints := make(map[CoreID]uint64, len(online))
	var maxHint uint64
	for _, id := range online {
		hint, err := readUint(path(id))
		if err != nil {
			return nil, false, ignoreNotExist(err)
		}
		hints[id] = hint
		maxHint = max(maxHint, hint)
	}
	if maxHint == 0 {
		return nil, false, nil
	}
	kinds := make(map[CoreID]CoreKind, len(online))
	for id, hint := range hints {
		if float64(hint)/float64(maxHint) < threshold {
			kinds[id] = Efficient
			continue
		}
		kinds[id] = Performance
	}
	return kinds, isHybrid(kinds), nil
}

// isHybrid returns true only if there are both E-cores and P-cores.
func isHybrid(kinds map[CoreID]CoreKind) bool {
	var e, p bool
	for _, kind := range kinds {
		switch kind {
		case Efficient:
			e = true
		case Performance:
			p = true
		}
	}
	return e && p
}

// readUint reads a single unsigned decimal number from the specified
// (sysfs) file.
func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	bs := faf.NewBytestring(bytes.TrimSpace(b))
	v, ok := bs.Uint64()
	if !ok || !bs.EOL() {
		return 0, fmt.Errorf("malformed number in %s", path)
	}
	return v, nil
}

func ignoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
