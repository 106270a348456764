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
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/thediveo/coresteer/internal/topology"
	"github.com/thediveo/faf"
)

// DefaultProcfs is the usual procfs mount point.
const DefaultProcfs = "/proc"

// Counters are the cumulative time counters of a single core, in kernel
// USER_HZ ticks since boot.
type Counters struct {
	Busy  uint64
	Total uint64
}

// CounterSource returns the current cumulative time counters for all cores
// it knows of.
type CounterSource interface {
	Counters() (map[topology.CoreID]Counters, error)
}

// ProcStat is a [CounterSource] reading the per-cpu lines of
// “<root>/stat”, such as:
//
//	cpu3 1021 3 544 240918 91 0 7 0 0 0
//
// The columns are user, nice, system, idle, iowait, irq, softirq, steal,
// guest, and guest_nice. Guest time is already accounted in user and nice, so
// the total consists of the first eight columns only, of which all but idle
// and iowait are busy time.
type ProcStat struct {
	Root string
}

// Counters reads the current counters of all cores.
func (p ProcStat) Counters() (map[topology.CoreID]Counters, error) {
	root := p.Root
	if root == "" {
		root = DefaultProcfs
	}
	b, err := os.ReadFile(filepath.Join(root, "stat"))
	if err != nil {
		return nil, err
	}
	counters := map[topology.CoreID]Counters{}
	for line := range Lines(b) {
		if !bytes.HasPrefix(line, []byte("cpu")) {
			continue
		}
		id, c, ok, err := parseCPULine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			counters[id] = c
		}
	}
	return counters, nil
}

// parseCPULine parses a single “cpuN ...” line; it returns ok false for the
// aggregated “cpu ...” line.
func parseCPULine(line []byte) (topology.CoreID, Counters, bool, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 || len(fields[0]) == len("cpu") {
		return 0, Counters{}, false, nil
	}
	id, ok := parseUint(fields[0][len("cpu"):])
	if !ok {
		return 0, Counters{}, false, fmt.Errorf("malformed cpu label %q", fields[0])
	}
	if len(fields) < 1+8 {
		return 0, Counters{}, false, fmt.Errorf("cpu%d: expected at least 8 time columns, got %d", id, len(fields)-1)
	}
	var times [8]uint64
	for idx := range times {
		if times[idx], ok = parseUint(fields[1+idx]); !ok {
			return 0, Counters{}, false, fmt.Errorf("cpu%d: malformed time column %d", id, idx+1)
		}
	}
	var c Counters
	for _, t := range times {
		c.Total += t
	}
	const idle, iowait = 3, 4
	c.Busy = c.Total - times[idle] - times[iowait]
	return topology.CoreID(id), c, true, nil
}

func parseUint(b []byte) (uint64, bool) {
	bs := faf.NewBytestring(b)
	v, ok := bs.Uint64()
	if !ok || !bs.EOL() {
		return 0, false
	}
	return v, true
}

// Lines returns an iterator over the lines in b, without their terminating
// newlines.
func Lines(b []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(b) > 0 {
			var line []byte
			if nlIdx := bytes.IndexByte(b, '\n'); nlIdx >= 0 {
				line, b = b[:nlIdx], b[nlIdx+1:]
			} else {
				line, b = b, nil
			}
			if !yield(line[:len(line):len(line)]) {
				return
			}
		}
	}
}

// errMalformedStat is returned for unparseable per-thread statistics.
var errMalformedStat = errors.New("malformed thread statistics")
