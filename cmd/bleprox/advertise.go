package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/medium"
)

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Advertise a service with opaque service data",
	Long: `Advertise broadcasts the profile's service data under its service UUID
until interrupted. Nearby peers running "bleprox scan" for the same UUID
will see the payload.`,
	RunE: runAdvertise,
}

func init() {
	advertiseCmd.Flags().String("service", "", "Service UUID to advertise")
	advertiseCmd.Flags().String("data", "", "Hex-encoded service data payload")
	advertiseCmd.Flags().String("name", "", "Local device name")
	advertiseCmd.Flags().Bool("low-power", false, "Advertise at low transmit power")
}

func runAdvertise(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	profile, err := resolveProfile(cmd)
	if err != nil {
		return err
	}
	if profile.ServiceData == "" {
		return fmt.Errorf("nothing to advertise: set serviceData in the profile or pass --data")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := medium.New(logger)
	defer m.Close()

	adv := radio.Advertisement{
		ServiceData: map[string][]byte{
			profile.ServiceUUID: profile.ServiceDataBytes(),
		},
		TxPower: profile.Advertise.TxPower(),
	}
	if err := m.StartAdvertising(profile.ServiceUUID, adv, profile.Advertise); err != nil {
		return err
	}
	defer m.StopAdvertising(profile.ServiceUUID)

	fmt.Printf("Advertising %s (%d bytes of service data), press Ctrl+C to stop\n",
		profile.ServiceUUID, len(profile.ServiceDataBytes()))

	<-ctx.Done()
	return nil
}
