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

package cpus

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/thediveo/faf"
)

// List is a list of CPU [from...to] ranges in ascending order. CPU numbers
// are starting from zero.
type List [][2]uint

// String returns the CPU list in the kernel's textual list format, such as
// “0-3,8,10-11”.
func (l List) String() string {
	var b strings.Builder
	for idx, cpurange := range l {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(cpurange[0]), 10))
		if cpurange[0] != cpurange[1] {
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(cpurange[1]), 10))
		}
	}
	return b.String()
}

// NewList returns a new CPU List for the given textual list format. If the text
// is malformed then an error is returned instead.
func NewList(b []byte) (List, error) {
	bs := faf.NewBytestring(b)
	l := List{}
	if bs.EOL() {
		return l, nil
	}
	for {
		// A CPU number is expected, optionally followed by "-" and the last
		// CPU number of a range.
		from, ok := bs.Uint64()
		if !ok {
			return nil, errors.New("expected unsigned integer number")
		}
		to := from
		if bs.EOL() {
			return append(l, [2]uint{uint(from), uint(to)}), nil
		}
		switch ch, _ := bs.Next(); ch {
		case '-':
			if to, ok = bs.Uint64(); !ok {
				return nil, errors.New("expected unsigned integer number")
			}
			if to < from {
				return nil, fmt.Errorf("invalid range %d-%d", from, to)
			}
			l = append(l, [2]uint{uint(from), uint(to)})
			if bs.EOL() {
				return l, nil
			}
			// anything following a range must be the "," separator.
			if ch, _ = bs.Next(); ch != ',' {
				return nil, errors.New("expected ','")
			}
		case ',':
			l = append(l, [2]uint{uint(from), uint(to)})
		default:
			return nil, errors.New("expected '-' or ','")
		}
	}
}

// ReadList reads a CPU list from the specified (sysfs) file, such as
// “/sys/devices/system/cpu/online”. Trailing whitespace, such as the final
// newline, is ignored. An empty file results in an empty List.
func ReadList(path string) (List, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := NewList(bytes.TrimSpace(b))
	if err != nil {
		return nil, fmt.Errorf("malformed CPU list in %s: %w", path, err)
	}
	return l, nil
}

// Len returns the number of CPUs in this List.
func (l List) Len() int {
	n := 0
	for _, cpurange := range l {
		n += int(cpurange[1]-cpurange[0]) + 1
	}
	return n
}

// All returns an iterator over the individual CPU numbers of this List, in
// ascending order.
func (l List) All() iter.Seq[uint] {
	return func(yield func(uint) bool) {
		for _, cpurange := range l {
			for cpu := cpurange[0]; cpu <= cpurange[1]; cpu++ {
				if !yield(cpu) {
					return
				}
			}
		}
	}
}

// Set returns the CPU Set corresponding with this list.
func (l List) Set() Set {
	if len(l) == 0 {
		return Set{}
	}
	// Do last range first to allocate only once.
	var s Set
	for _, cpurange := range slices.Backward(l) {
		s = s.AddRange(cpurange[0], cpurange[1])
	}
	return s
}

// Remove the lowest CPU from the specified List, returning the CPU number
// together with a new List of remaining CPUs.
//
// Remove is useful to pick an individual CPU this process is allowed to run
// on after first getting the affinity List.
func (l List) Remove() (cpu uint, remaining List) {
	if len(l) == 0 {
		panic("cannot remove from empty List")
	}
	lowestRange := l[0]
	if lowestRange[0] < lowestRange[1] {
		cpu = lowestRange[0]
		return cpu, append(List{[2]uint{cpu + 1, lowestRange[1]}}, l[1:]...)
	}
	return lowestRange[0], slices.Clone(l[1:])
}
