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
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// userHZ is the kernel's USER_HZ, which is fixed at 100 on all Linux
// architectures as far as userspace-visible clock ticks are concerned.
const userHZ = 100

// ThreadRunTime returns the cumulative on-CPU time of the specified thread of
// this process, based on “<procfs>/self/task/<tid>/schedstat”. On kernels
// without scheduler statistics it falls back to the utime and stime fields of
// “<procfs>/self/task/<tid>/stat”, with tick resolution only.
func ThreadRunTime(procfs string, tid int) (time.Duration, error) {
	if procfs == "" {
		procfs = DefaultProcfs
	}
	taskdir := filepath.Join(procfs, "self/task", strconv.Itoa(tid))
	b, err := os.ReadFile(filepath.Join(taskdir, "schedstat"))
	if err == nil {
		fields := bytes.Fields(b)
		if len(fields) == 0 {
			return 0, errMalformedStat
		}
		ns, ok := parseUint(fields[0])
		if !ok {
			return 0, errMalformedStat
		}
		return time.Duration(ns), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	return statRunTime(filepath.Join(taskdir, "stat"))
}

// statRunTime returns utime+stime from a task's stat file. As the command
// name in the second field might contain spaces and parentheses, the fields
// are counted from the last closing parenthesis on.
func statRunTime(path string) (time.Duration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	closing := bytes.LastIndexByte(b, ')')
	if closing < 0 {
		return 0, errMalformedStat
	}
	// fields[0] is the state, which is field 3 in proc_pid_stat(5) terms.
	const utime, stime = 14 - 3, 15 - 3
	fields := bytes.Fields(b[closing+1:])
	if len(fields) <= stime {
		return 0, errMalformedStat
	}
	u, uok := parseUint(fields[utime])
	s, sok := parseUint(fields[stime])
	if !uok || !sok {
		return 0, fmt.Errorf("%w: %s", errMalformedStat, path)
	}
	return time.Duration(u+s) * time.Second / userHZ, nil
}
