package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cuzk.mleku.dev"
)

const (
	configFlag    = "config"
	chunkSizeFlag = "chunk-size"
	reductionFlag = "reduction"
	debugFlag     = "debug"
)

// loadConfig reads a YAML pipeline configuration. Keys missing from the
// file keep their defaults.
func loadConfig(path string) (cuzk.Config, error) {
	cfg := cuzk.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

func registerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String(configFlag, "", "YAML pipeline configuration file")
	cmd.Flags().Uint(chunkSizeFlag, 0, "window width in bits (overrides the config file)")
	cmd.Flags().String(reductionFlag, "", "bucket reduction: auto, tree or running-sum")
	cmd.Flags().Bool(debugFlag, false, "cross-check every stage on the CPU")
}

// configFromFlags loads the config file named by --config and applies the
// flags that were set explicitly.
func configFromFlags(cmd *cobra.Command) (cuzk.Config, error) {
	path, _ := cmd.Flags().GetString(configFlag)

	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed(chunkSizeFlag) {
		cfg.ChunkSize, _ = flags.GetUint(chunkSizeFlag)
	}

	if flags.Changed(reductionFlag) {
		v, _ := flags.GetString(reductionFlag)
		if err := cfg.Reduction.UnmarshalText([]byte(v)); err != nil {
			return cfg, err
		}
	}

	if flags.Changed(debugFlag) {
		cfg.Debug, _ = flags.GetBool(debugFlag)
	}

	return cfg, cfg.Validate()
}
