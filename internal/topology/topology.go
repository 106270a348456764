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

/*
Package topology discovers the logical CPUs ("cores") of this system and
classifies each of them as either an efficiency core (E-core), a performance
core (P-core), or – on systems without any hybrid-core data – as unknown.

The resulting [Topology] is determined once at startup and never changes
afterwards. Unknown cores are handled exactly like performance cores by their
consumers: they are never loaded.
*/
package topology

import (
	"slices"
	"strconv"
	"strings"

	"github.com/thediveo/coresteer/internal/cpus"
)

// CoreID identifies a logical CPU, using the kernel's 0-based CPU numbering.
type CoreID uint

// CoreKind is the kind of a logical CPU.
type CoreKind int

// The kinds of logical CPUs; Unknown is used on platforms lacking hybrid-core
// classification data.
const (
	Unknown CoreKind = iota
	Efficient
	Performance
)

// String returns the short name of the core kind.
func (k CoreKind) String() string {
	switch k {
	case Efficient:
		return "E"
	case Performance:
		return "P"
	default:
		return "unknown"
	}
}

// Core is a logical CPU together with its kind.
type Core struct {
	ID   CoreID
	Kind CoreKind
}

// Topology is the immutable, ordered sequence of logical CPUs of this system,
// sorted by CoreID. Each CoreID appears exactly once.
type Topology struct {
	cores []Core
}

// New returns a Topology for the passed cores. Duplicate core IDs keep the
// first occurrence's kind.
func New(cores ...Core) Topology {
	cs := slices.Clone(cores)
	slices.SortStableFunc(cs, func(a, b Core) int {
		return int(a.ID) - int(b.ID)
	})
	cs = slices.CompactFunc(cs, func(a, b Core) bool { return a.ID == b.ID })
	return Topology{cores: cs}
}

// Len returns the number of logical CPUs.
func (t Topology) Len() int { return len(t.cores) }

// Cores returns a copy of the cores in ascending CoreID order.
func (t Topology) Cores() []Core { return slices.Clone(t.cores) }

// IDs returns the core IDs in ascending order.
func (t Topology) IDs() []CoreID {
	return t.filter(func(Core) bool { return true })
}

// Kind returns the kind of the specified core and true, or false if there is
// no such core.
func (t Topology) Kind(id CoreID) (CoreKind, bool) {
	idx, found := slices.BinarySearchFunc(t.cores, id, func(c Core, id CoreID) int {
		return int(c.ID) - int(id)
	})
	if !found {
		return Unknown, false
	}
	return t.cores[idx].Kind, true
}

// Efficient returns the IDs of the E-cores.
func (t Topology) Efficient() []CoreID {
	return t.filter(func(c Core) bool { return c.Kind == Efficient })
}

// Others returns the IDs of all cores that are not E-cores, that is, the
// P-cores as well as unclassified cores.
func (t Topology) Others() []CoreID {
	return t.filter(func(c Core) bool { return c.Kind != Efficient })
}

// IsHybrid returns true if there is at least one E-core.
func (t Topology) IsHybrid() bool {
	return slices.ContainsFunc(t.cores, func(c Core) bool { return c.Kind == Efficient })
}

func (t Topology) filter(keep func(Core) bool) []CoreID {
	ids := make([]CoreID, 0, len(t.cores))
	for _, c := range t.cores {
		if keep(c) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// String returns a compact textual representation, such as “0:E 1:E 2:P”.
func (t Topology) String() string {
	var b strings.Builder
	for idx, c := range t.cores {
		if idx > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(c.ID), 10))
		b.WriteByte(':')
		b.WriteString(c.Kind.String())
	}
	return b.String()
}

// CPUList returns the passed core IDs in CPU list form, such as “0-3,8”.
func CPUList(ids []CoreID) cpus.List {
	var s cpus.Set
	for _, id := range ids {
		s = s.AddRange(uint(id), uint(id))
	}
	return s.List()
}
