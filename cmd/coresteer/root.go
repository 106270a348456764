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

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/coresteer/internal/config"
	"github.com/thediveo/coresteer/internal/controller"
	"github.com/thediveo/coresteer/internal/logging"
	"github.com/thediveo/coresteer/internal/sampler"
	"github.com/thediveo/coresteer/internal/topology"
	"github.com/thediveo/coresteer/internal/worker"
)

// flagKeys maps command line flags to their configuration keys.
var flagKeys = map[string]string{
	"interval":   "control.interval",
	"debounce":   "control.debounce",
	"sysfs":      "topology.sysfs",
	"procfs":     "sampler.procfs",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coresteer [start-core]",
		Short: "Steer work towards P-cores by keeping E-cores busy",
		Long: `coresteer biases the OS scheduler on hybrid E/P-core CPUs towards the
P-cores, by occupying E-cores with lowest-priority busy work.

Without arguments, coresteer monitors the core utilization and loads only
those E-cores that are already saturated by genuine work while the P-cores
sit idle, releasing them again when the P-cores get busy.

With a start core, coresteer loads all cores from the start core on right
away and keeps them loaded until terminated.

Examples:
  coresteer                  # adaptive mode
  coresteer 4                # load cores 4 and up
  coresteer topology         # show detected E-cores and P-cores`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSteer,
	}
	rootCmd.SetFlagErrorFunc(negativeStartError)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ~/.config/coresteer/config.yaml)")
	pf.Duration("interval", config.DefaultInterval, "sampling interval")
	pf.Int("debounce", config.DefaultDebounce, "consecutive cycles before a transition")
	pf.String("sysfs", config.DefaultSysfs, "sysfs mount point")
	pf.String("procfs", config.DefaultProcfs, "procfs mount point")
	pf.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	pf.String("log-format", config.DefaultLogFormat, "log format (text, json, logfmt)")

	rootCmd.AddCommand(newTopologyCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig returns the configuration from the config file, environment,
// and command line flags, in increasing order of precedence.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfgFile, _ := flags.GetString("config")
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	for name, key := range flagKeys {
		if flag := flags.Lookup(name); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}
	return config.Load(v)
}

// setup loads the configuration and creates the logger.
func setup(cmd *cobra.Command) (config.Config, *log.Logger, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// discover discovers and classifies the cores. Only a failure to enumerate
// the cores at all is fatal; classification problems are logged and leave the
// cores concerned unclassified.
func discover(cfg config.Config, logger *log.Logger) (topology.Topology, error) {
	topo, err := topology.Discover(
		topology.SysfsEnumerator{Root: cfg.Topology.Sysfs},
		topology.SysfsClassifiers(cfg.Topology.Sysfs, cfg.Topology.CapacityThreshold)...)
	if err != nil {
		var cerr *topology.ClassificationError
		if errors.As(err, &cerr) {
			return topology.Topology{}, err
		}
		logger.Warn("incomplete core classification", "err", err)
	}
	logger.Info("discovered cores",
		"ecores", topology.CPUList(topo.Efficient()).String(),
		"others", topology.CPUList(topo.Others()).String())
	return topo, nil
}

// negativeStartError turns a negative start core that the flag parser took
// for a shorthand flag, such as “-1”, into an [topology.InvalidRangeError].
// All other flag errors pass unchanged.
func negativeStartError(cmd *cobra.Command, err error) error {
	var nerr *pflag.NotExistError
	if !errors.As(err, &nerr) {
		return err
	}
	start, convErr := strconv.Atoi("-" + nerr.GetSpecifiedShortnames())
	if convErr != nil || start >= 0 {
		return err
	}
	cfg, logger, setupErr := setup(cmd)
	if setupErr != nil {
		return setupErr
	}
	topo, discErr := discover(cfg, logger)
	if discErr != nil {
		return discErr
	}
	_, rangeErr := topology.ManualTargets(topo, start)
	return rangeErr
}

// runSteer runs the load controller until interrupted or terminated.
func runSteer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	start := -1
	if len(args) == 1 {
		if start, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid start core %q: %w", args[0], err)
		}
	}
	topo, err := discover(cfg, logger)
	if err != nil {
		return err
	}

	spawner := &worker.Spawner{
		Procfs: cfg.Sampler.Procfs,
		Logger: logging.Component(logger, "worker"),
	}
	opts := controller.Options{
		Control: cfg.Control,
		Activator: controller.ActivatorFunc(func(core topology.CoreID) (controller.Worker, error) {
			h, err := spawner.Activate(core)
			if err != nil {
				return nil, err
			}
			return h, nil
		}),
		Logger:              logging.Component(logger, "controller"),
		ErrorReportInterval: cfg.Sampler.ErrorReportInterval,
	}
	var ctrl *controller.Controller
	if len(args) == 1 {
		ctrl, err = controller.NewManual(topo, start, opts)
	} else {
		opts.Sampler = sampler.New(sampler.ProcStat{Root: cfg.Sampler.Procfs})
		ctrl, err = controller.New(topo, opts)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ctrl.Run(ctx); err != nil {
		return err
	}
	logger.Info("all busy workers stopped")
	return nil
}
