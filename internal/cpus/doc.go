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
Package cpus provides the CPU list and CPU set types used throughout
coresteer, together with pinning OS-level threads to CPUs.

Each logical CPU is identified by its 0-based CPU number, as the kernel does.
The two types differ only in their internal representation, mirroring the two
forms the kernel uses:

  - [List] stores CPU numbers as ranges, such as 1-4,8-15. This is the format
    of sysfs files such as /sys/devices/system/cpu/online and the hybrid PMU
    files /sys/devices/cpu_core/cpus and /sys/devices/cpu_atom/cpus.
  - [Set] stores CPU numbers as bits in uint64 words, as passed to
    [sched_setaffinity(2)].

[List.Set] converts a List into its Set, and [Set.List] the other way round.

[sched_setaffinity(2)]: https://man7.org/linux/man-pages/man2/sched_setaffinity.2.html
*/
package cpus
