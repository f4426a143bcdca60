package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chis/fleetwatch/internal/config"
	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/output"
)

var (
	cfgPath  string
	envFiles []string
	jsonMode bool
)

var rootCmd = &cobra.Command{
	Use:           "fleetwatch",
	Short:         "Watch the containers of a device fleet for image updates",
	Long:          "fleetwatch connects to the Docker daemon of every device over SSH, scans running containers on a schedule and reports newer image tags or digests found on their registries.",
	Version:       output.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "fleetwatch.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Env files loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "Output in JSON format")

	rootCmd.AddCommand(runCmd, checkCmd, validateCmd)
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgPath, envFiles...)
	if err != nil {
		return nil, nil, err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Log.Level))
	log.SetJSON(cfg.Log.JSON())
	logging.SetDefault(log)
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonMode {
			_ = output.WriteJSONError(os.Stdout, err)
		} else {
			logging.Error("%v", err)
		}
		os.Exit(1)
	}
}
