package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleprox/bridge"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/internal/radio/goble"
	"github.com/srg/bleprox/medium"
)

var connectCmd = &cobra.Command{
	Use:   "connect <peripheral>",
	Short: "Connect to a peer's service and bridge the socket to a PTY",
	Long: `Connect opens an outbound proximity socket to the peripheral hosting the
profile's service, then bridges it to a fresh pseudo-terminal whose path is
printed so another program can attach.

The peripheral argument is the address printed by "bleprox scan".`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("service", "", "Service UUID to connect to")
	connectCmd.Flags().String("pipe-char", "", "Data-pipe characteristic UUID")
	connectCmd.Flags().String("tty-symlink", "", "Create a stable symlink to the PTY slave")
	connectCmd.Flags().Bool("low-power", false, "Connect at low transmit power")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	profile, err := resolveProfile(cmd)
	if err != nil {
		return err
	}
	peripheralID := args[0]
	symlink, _ := cmd.Flags().GetString("tty-symlink")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := medium.New(logger)
	defer m.Close()

	m.RegisterConnectionRequester(profile.ServiceUUID, dialRequester(ctx, profile, logger))
	defer m.UnregisterConnectionRequester(profile.ServiceUUID)

	power := radio.PowerHigh
	if profile.Discovery.LowPower {
		power = radio.PowerLow
	}

	fmt.Printf("Connecting to %s on %s...\n", peripheralID, profile.ServiceUUID)
	sock, err := m.Connect(ctx, profile.ServiceUUID, power, radio.NewPeripheral(peripheralID))
	if err != nil {
		return err
	}

	b, err := bridge.New(sock, bridge.Options{
		Logger:         logger,
		TTYSymlinkPath: symlink,
	})
	if err != nil {
		sock.Close()
		return err
	}
	defer b.Close()

	fmt.Printf("Connected, bridged to %s\n", b.TTYName())
	if link := b.TTYSymlink(); link != "" {
		fmt.Printf("Symlink: %s\n", link)
	}

	waitSocketClosed(ctx, sock)
	return nil
}

// dialRequester adapts the BLE dialer into the connection requester shape the
// medium expects.
func dialRequester(ctx context.Context, profile *Profile, logger *logrus.Logger) medium.ConnectionRequester {
	return func(peripheral *radio.Peripheral, power radio.PowerLevel, result func(radio.Conn, error)) {
		go func() {
			conn, err := goble.Dial(ctx, peripheral.ID(), profile.ServiceUUID, profile.PipeCharacteristicUUID, logger)
			result(conn, err)
		}()
	}
}
