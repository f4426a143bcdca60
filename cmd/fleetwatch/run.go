package main

import (
	"github.com/spf13/cobra"

	"github.com/chis/fleetwatch/internal/bootstrap"
	"github.com/chis/fleetwatch/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon: register every registry and device watcher until signalled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		result := config.ValidateConfig(cfg)
		for _, w := range result.Warnings {
			log.Warn("Config: %s", w)
		}
		if !result.IsValid() {
			for _, e := range result.Errors {
				log.Error("Config: %s", e)
			}
			return errInvalidConfig
		}

		ctx, cancel := signalContext()
		defer cancel()

		deps, cleanup, err := bootstrap.InitializeServices(ctx, bootstrap.InitOptions{Config: cfg, Log: log})
		if err != nil {
			return err
		}
		defer cleanup()

		done := deps.Engine.InstallShutdownHook(ctx)

		if err := deps.Engine.RegisterRegistries(ctx); err != nil {
			log.WithError(err).Warn("Some registries could not be registered")
		}
		if err := deps.Engine.RegisterWatchers(ctx); err != nil {
			log.WithError(err).Warn("Some watchers could not be registered")
		}
		log.Info("fleetwatch started with %d registries and %d watchers",
			len(deps.Engine.Registries()), len(deps.Engine.Watchers()))

		<-done
		return nil
	},
}
