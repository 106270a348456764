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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration
// keys, such as CORESTEER_CONTROL_DEBOUNCE for “control.debounce”.
const EnvPrefix = "CORESTEER"

// NewViper returns a viper instance with all defaults set, environment
// variable binding enabled, and the configuration file read in. An explicitly
// specified configuration file must exist, while the default
// “$XDG_CONFIG_HOME/coresteer/config.yaml” (or “~/.config/coresteer/config.yaml”)
// is optional.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
		return v, nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "coresteer"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "coresteer"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers all configuration keys with their default values.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("control.interval", d.Control.Interval)
	v.SetDefault("control.debounce", d.Control.Debounce)
	v.SetDefault("control.pcore_low_water", d.Control.PCoreLowWater)
	v.SetDefault("control.pcore_withdraw", d.Control.PCoreWithdraw)
	v.SetDefault("control.ecore_high_water", d.Control.ECoreHighWater)
	v.SetDefault("control.join_timeout", d.Control.JoinTimeout)
	v.SetDefault("topology.capacity_threshold", d.Topology.CapacityThreshold)
	v.SetDefault("topology.sysfs", d.Topology.Sysfs)
	v.SetDefault("sampler.procfs", d.Sampler.Procfs)
	v.SetDefault("sampler.error_report_interval", d.Sampler.ErrorReportInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load returns the validated configuration from the passed viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
