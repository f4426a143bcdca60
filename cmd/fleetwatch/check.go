package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chis/fleetwatch/internal/bootstrap"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/output"
	"github.com/chis/fleetwatch/internal/watcher"
)

var (
	errInvalidConfig = errors.New("invalid configuration")
	errNotConnected  = errors.New("watcher is not connected")
)

var (
	checkDevice  string
	checkTimeout time.Duration
)

func init() {
	checkCmd.Flags().StringVar(&checkDevice, "device", "", "Id of the device to scan")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 5*time.Minute, "Scan timeout")
	_ = checkCmd.MarkFlagRequired("device")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Scan the containers of one device once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, checkTimeout)
		defer cancelTimeout()

		// Push the scheduled first scan out so only the explicit one below runs.
		deps, cleanup, err := bootstrap.InitializeServices(ctx, bootstrap.InitOptions{
			Config:         cfg,
			Log:            log,
			WatcherOptions: watcher.Options{StartupDelay: 24 * time.Hour},
		})
		if err != nil {
			return err
		}
		defer cleanup()

		device, err := deps.Storage.FindDevice(ctx, checkDevice)
		if err != nil {
			return fmt.Errorf("unknown device %s: %w", checkDevice, err)
		}
		device.WatchEvents = false

		if err := deps.Engine.RegisterRegistries(ctx); err != nil {
			log.WithError(err).Warn("Some registries could not be registered")
		}
		w, err := deps.Engine.RegisterWatcher(ctx, device)
		if err != nil {
			return err
		}
		if !w.Connected() {
			return fmt.Errorf("%s: %w", w.ID(), errNotConnected)
		}

		if !jsonMode {
			fmt.Fprintf(os.Stderr, "Scanning %s...\n", device.Name)
		}
		reports, err := w.Watch(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		return printReports(device, reports)
	},
}

func printReports(device model.Device, reports []model.ContainerReport) error {
	if jsonMode {
		return output.WriteJSONData(os.Stdout, output.Report{
			Device:     device.ID,
			Summary:    output.Summarize(reports),
			Containers: reports,
		})
	}
	return output.NewPrinter(os.Stdout).WriteReport(device.Name, reports)
}
