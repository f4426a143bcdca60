package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chis/fleetwatch/internal/config"
	"github.com/chis/fleetwatch/internal/output"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without connecting to any device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		result := config.ValidateConfig(cfg)
		if jsonMode {
			if err := output.WriteJSONData(os.Stdout, result); err != nil {
				return err
			}
		} else {
			for _, w := range result.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			for _, e := range result.Errors {
				fmt.Printf("error: %s\n", e)
			}
			if result.IsValid() {
				fmt.Printf("%s: %d devices, %d registries\n", cfgPath, len(cfg.Devices), len(cfg.Registries))
			}
		}

		if !result.IsValid() {
			return errInvalidConfig
		}
		return nil
	},
}
