package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/medium"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby peers advertising a service",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().String("service", "", "Service UUID to scan for")
	scanCmd.Flags().Duration("timeout", 0, "Stop scanning after this long (0 scans until interrupted)")
	scanCmd.Flags().Bool("low-power", false, "Scan at low power")
	scanCmd.Flags().Bool("all", false, "Print every delivery instead of deduplicating per peer")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	profile, err := resolveProfile(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	printAll, _ := cmd.Flags().GetBool("all")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m := medium.New(logger)
	defer m.Close()

	peerColor := color.New(color.FgGreen).SprintFunc()
	dataColor := color.New(color.FgCyan).SprintFunc()

	var mu sync.Mutex
	seen := make(map[string]string)

	power := radio.PowerHigh
	if profile.Discovery.LowPower {
		power = radio.PowerLow
	}

	cb := medium.ScanCallback{
		AdvertisementFound: func(peripheral *radio.Peripheral, adv radio.Advertisement) {
			data := adv.ServiceData[radio.NormalizeUUID(profile.ServiceUUID)]
			payload := hex.EncodeToString(data)

			if !printAll {
				mu.Lock()
				if seen[peripheral.ID()] == payload {
					mu.Unlock()
					return
				}
				seen[peripheral.ID()] = payload
				mu.Unlock()
			}
			fmt.Printf("%s  %s  %s\n",
				time.Now().Format(time.RFC3339),
				peerColor(peripheral.ID()),
				dataColor(payload))
		},
	}
	if err := m.StartScanning(profile.ServiceUUID, power, cb); err != nil {
		return err
	}
	defer m.StopScanning()

	fmt.Printf("Scanning for %s, press Ctrl+C to stop\n", profile.ServiceUUID)
	<-ctx.Done()
	return nil
}
