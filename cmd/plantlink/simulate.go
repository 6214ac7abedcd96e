package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/plantlink/modbus"
)

var simulateListen string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-memory Modbus device simulator",
	Long: `simulate serves a Modbus TCP device backed by an in-memory register
bank, seeded with plausible plant telemetry. Useful for exercising the
monitoring service without field hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bank := modbus.NewRegisterBank()
		seedBank(bank)

		sim := modbus.NewSimulator(bank, modbus.WithSimLogger(logger))

		errCh := make(chan error, 1)
		go func() {
			errCh <- sim.ListenAndServe(simulateListen)
		}()

		logger.Info("simulator listening", "addr", simulateListen)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sig:
			return sim.Close()
		}
	},
}

// seedBank loads plausible steady-state values: temperatures in tenths
// of a degree, pressures in tenths of a PSI, radiation in thousandths
// of a mSv/h.
func seedBank(bank *modbus.RegisterBank) {
	bank.SetInput(0x1000, 2853)  // 285.3
	bank.SetInput(0x1001, 2921)  // 292.1
	bank.SetInput(0x2000, 21560) // 2156.0
	bank.SetInput(0x2001, 21480) // 2148.0
	bank.SetInput(0x3000, 120)   // 0.120
	bank.SetInput(0x3001, 95)    // 0.095
	bank.SetHolding(0x0000, 1)   // device enabled
	bank.SetHolding(0x0001, 5)   // scan rate seconds
}

func init() {
	simulateCmd.Flags().StringVar(&simulateListen, "listen", "127.0.0.1:1502", "listen address")
}
