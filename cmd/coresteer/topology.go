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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thediveo/coresteer/internal/topology"
)

func newTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show the detected E-cores and P-cores",
		Args:  cobra.NoArgs,
		RunE:  runTopology,
	}
}

// runTopology prints one line per core with its kind, followed by the CPU
// lists of E-cores and all other cores.
func runTopology(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	topo, err := discover(cfg, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, core := range topo.Cores() {
		fmt.Fprintf(out, "cpu%d\t%s\n", core.ID, core.Kind)
	}
	fmt.Fprintf(out, "E-cores: %s\n", topology.CPUList(topo.Efficient()))
	fmt.Fprintf(out, "others:  %s\n", topology.CPUList(topo.Others()))
	return nil
}
