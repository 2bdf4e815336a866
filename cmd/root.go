// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd wires the kernel's boot command line: parse arguments, decode
// them into a cfg.Config, and hand off to the kernel's init sequence, the
// same role a bootloader plays before jumping to a kernel image.
package cmd

import (
	"fmt"
	"os"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// BootConfig is the fully decoded configuration available once
	// cobra.OnInitialize has run.
	BootConfig = cfg.GetDefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "corekernel [flags]",
	Short: "Boot the core kernel substrate",
	Long: `corekernel boots the memory, scheduling, VFS, ACPI, block storage,
USB and network core of a hobby POSIX-leaning kernel as a single hosted
process, the same way a bootloader hands control to a kernel image.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&BootConfig); err != nil {
			return err
		}
		return runBoot(cmd.Context(), &BootConfig)
	},
}

// Execute runs the root command, exiting the process on error exactly like
// a kernel panic would halt the CPU.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML boot config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	decodeHook := viper.DecodeHook(cfg.DecodeHook())
	// Config's fields carry yaml tags only, so keys are matched against
	// those rather than viper's default "mapstructure" tag.
	yamlTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&BootConfig, decodeHook, yamlTags)
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&BootConfig, decodeHook, yamlTags)
}
