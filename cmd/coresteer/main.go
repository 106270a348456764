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

// Package main provides the coresteer command, which biases the OS scheduler
// on hybrid E/P-core systems towards the P-cores by occupying E-cores with
// lowest-priority busy work.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/thediveo/coresteer/internal/topology"
)

// Exit codes.
const (
	exitOK             = 0
	exitFailure        = 1
	exitClassification = 2
	exitInvalidRange   = 3
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps fatal errors to process exit codes.
func exitCode(err error) int {
	var cerr *topology.ClassificationError
	var rerr *topology.InvalidRangeError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cerr):
		return exitClassification
	case errors.As(err, &rerr):
		return exitInvalidRange
	default:
		return exitFailure
	}
}
