package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/plantlink/distrib"
	"github.com/edgeo-scada/plantlink/internal/config"
	"github.com/edgeo-scada/plantlink/monitor"
	"github.com/edgeo-scada/plantlink/process"
	"github.com/edgeo-scada/plantlink/security"
	"github.com/edgeo-scada/plantlink/sensors"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runService(cfg)
	},
}

func runService(cfg *config.Config) error {
	addrMap, err := sensors.NewAddressMap(cfg.MapEntries())
	if err != nil {
		return err
	}

	pool, err := sensors.NewPool(cfg.PoolDevices(), addrMap,
		sensors.WithReadTimeout(cfg.ReadTimeout),
		sensors.WithPoolLogger(logger),
	)
	if err != nil {
		return err
	}
	defer pool.Close()

	serverOpts := []distrib.ServerOption{
		distrib.WithMaxClients(cfg.Server.MaxClients),
		distrib.WithHeartbeatInterval(cfg.Server.HeartbeatInterval),
		distrib.WithClientTimeout(cfg.Server.ClientTimeout),
		distrib.WithValidator(security.NewInputValidator()),
		distrib.WithServerLogger(logger),
	}
	if cfg.Server.AuthToken != "" {
		serverOpts = append(serverOpts,
			distrib.WithAuthenticator(security.NewTokenAuthenticator(cfg.Server.AuthToken)))
	}
	server, err := distrib.NewServer(serverOpts...)
	if err != nil {
		return err
	}

	processor := process.NewThresholdProcessor(process.Thresholds{
		MaxTemperature: cfg.Thresholds.MaxTemperature,
		MaxPressure:    cfg.Thresholds.MaxPressure,
		MaxRadiation:   cfg.Thresholds.MaxRadiation,
	})

	mon, err := monitor.New(
		monitor.Config{
			PlantID:      cfg.PlantID,
			ListenAddr:   fmt.Sprintf(":%d", cfg.Server.Port),
			ScanInterval: cfg.ScanInterval,
		},
		pool, processor, server, logger,
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	return mon.Stop()
}
