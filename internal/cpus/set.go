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
	"fmt"
	"math/bits"
	"slices"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Set is a CPU bit string, such as used for CPU affinity masks. See also
// [sched_getaffinity(2)].
//
// [sched_getaffinity(2)]: https://man7.org/linux/man-pages/man2/sched_getaffinity.2.html
type Set []uint64

// setsize reflects the dynamically determined size of CPU sets on this system
// (size in uint64 words). This is usually smaller than the fixed-sized
// [unix.CPUSet] that Go's [unix.SchedGetaffinity] uses.
var setsize atomic.Uint64
var wordbytesize = uint64(unsafe.Sizeof(Set{0}[0]))
var bitsperword = uint(wordbytesize * 8)

func init() {
	setsize.Store(1)
}

func setBitIndex(cpu uint) int {
	return int(cpu / bitsperword)
}

func setBitMask(cpu uint) uint64 {
	return uint64(1) << (cpu % bitsperword)
}

// IsSet reports whether cpu is in this CPU set.
func (s Set) IsSet(cpu uint) bool {
	if cpu >= uint(len(s))*bitsperword {
		return false
	}
	return s[setBitIndex(cpu)]&setBitMask(cpu) != 0
}

// AddRange adds the CPUs from the specified range, returning an updated Set.
// This updated Set may or may not be the original Set.
func (s Set) AddRange(from, to uint) Set {
	if from > to {
		panic(fmt.Sprintf("invalid range %d-%d", from, to))
	}
	if need := setBitIndex(to) + 1; need > len(s) {
		s = slices.Grow(s, need-len(s))[:need]
	}
	for cpu := from; cpu <= to; cpu++ {
		s[setBitIndex(cpu)] |= setBitMask(cpu)
	}
	return s
}

// Single returns the only CPU in this Set and true; otherwise, if the Set is
// empty or contains more than one CPU, it returns false.
func (s Set) Single() (cpu uint, ok bool) {
	found := false
	for idx, word := range s {
		switch bits.OnesCount64(word) {
		case 0:
			continue
		case 1:
			if found {
				return 0, false
			}
			found = true
			cpu = uint(idx)*bitsperword + uint(bits.TrailingZeros64(word))
		default:
			return 0, false
		}
	}
	if !found {
		return 0, false
	}
	return cpu, true
}

// List returns the list of CPU ranges corresponding with this CPU Set.
//
// All-zero words are skipped in one go, as affinity sets of small systems
// are mostly zero-padded.
func (s Set) List() List {
	cpulist := List{}
	inRange := false
	var from uint
	for idx, word := range s {
		base := uint(idx) * bitsperword
		if word == 0 && !inRange {
			continue
		}
		for bit := uint(0); bit < bitsperword; bit++ {
			set := word&(uint64(1)<<bit) != 0
			switch {
			case set && !inRange:
				from, inRange = base+bit, true
			case !set && inRange:
				cpulist = append(cpulist, [2]uint{from, base + bit - 1})
				inRange = false
			}
		}
	}
	if inRange {
		cpulist = append(cpulist, [2]uint{from, uint(len(s))*bitsperword - 1})
	}
	return cpulist
}

// String returns the CPUs in this set in textual list format.
func (s Set) String() string {
	return s.List().String()
}

// Affinity returns the affinity CPU Set of the task (thread) or process with
// the passed ID. If tid is zero, then the affinity of the calling thread is
// returned; make sure to have the OS-level thread locked to the calling go
// routine in this case.
//
// We don't use [unix.SchedGetaffinity] as this is tied to the fixed size
// [unix.CPUSet] type; instead, we dynamically figure out the size needed and
// cache the size internally.
func Affinity(tid int) (Set, error) {
	var set Set

	setlenStart := setsize.Load()
	setlen := setlenStart
	for {
		set = make([]uint64, setlen)
		// SYS_SCHED_GETAFFINITY never blocks, so RawSyscall suffices,
		// following Go's stdlib implementation.
		_, _, e := unix.RawSyscall(unix.SYS_SCHED_GETAFFINITY,
			uintptr(tid), uintptr(setlen*wordbytesize), uintptr(unsafe.Pointer(&set[0])))
		if e != 0 {
			if e == unix.EINVAL {
				setlen *= 2
				continue
			}
			return nil, e
		}
		// Publish the larger set size unless some other go routine has
		// already published an even larger one.
		for setlenStart < setlen && !setsize.CompareAndSwap(setlenStart, setlen) {
			setlenStart = setsize.Load()
		}
		return set, nil
	}
}

// SetAffinity sets the CPU affinities for the specified task/process.
// Otherwise, it returns an error. It is an error trying to set no affinities.
func SetAffinity(tid int, cpus Set) error {
	if len(cpus) == 0 {
		return syscall.EINVAL
	}
	_, _, e := unix.RawSyscall(unix.SYS_SCHED_SETAFFINITY,
		uintptr(tid), uintptr(uint64(len(cpus))*wordbytesize), uintptr(unsafe.Pointer(&cpus[0])))
	if e != 0 {
		return e
	}
	return nil
}

// PinTask restricts the task (thread) with the passed ID to the CPUs in this
// Set. A tid of zero pins the calling thread, so make sure to have locked the
// calling go routine to its OS-level thread.
func (s Set) PinTask(tid int) error {
	return SetAffinity(tid, s)
}
