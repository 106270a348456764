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

// Package logging sets up the structured, leveled logger shared by all
// coresteer components. Components derive their own prefixed logger using
// [Component].
package logging

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

var (
	// ErrInvalidLevel is returned for unknown log level names.
	ErrInvalidLevel = errors.New("invalid log level")
	// ErrInvalidFormat is returned for unknown log format names.
	ErrInvalidFormat = errors.New("invalid log format")
)

// Config configures the logger.
type Config struct {
	// Level is one of debug, info, warn, or error.
	Level string
	// Format is one of text, json, or logfmt.
	Format string
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// ParseFormat parses a log format name.
func ParseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("%w: %s", ErrInvalidFormat, s)
	}
}

// New returns a new logger writing to w.
func New(w io.Writer, cfg Config) (*log.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	}), nil
}

// Component returns a logger for the named component, prefixing all its
// messages with the component name.
func Component(logger *log.Logger, name string) *log.Logger {
	return logger.WithPrefix(name)
}
