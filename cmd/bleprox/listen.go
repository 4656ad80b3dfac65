package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleprox/bridge"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/medium"
	"github.com/srg/bleprox/stream"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept inbound proximity connections and bridge them to a PTY",
	Long: `Listen hosts the profile's service: it publishes the data-pipe
characteristic, advertises the service data, and accepts inbound
connections one at a time. Each accepted socket is bridged to a fresh
pseudo-terminal whose path is printed so another program can attach.`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().String("service", "", "Service UUID to host")
	listenCmd.Flags().String("data", "", "Hex-encoded service data payload")
	listenCmd.Flags().String("pipe-char", "", "Data-pipe characteristic UUID")
	listenCmd.Flags().String("tty-symlink", "", "Create a stable symlink to the PTY slave")
	listenCmd.Flags().Bool("low-power", false, "Advertise at low transmit power")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	profile, err := resolveProfile(cmd)
	if err != nil {
		return err
	}
	symlink, _ := cmd.Flags().GetString("tty-symlink")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := medium.New(logger)
	defer m.Close()

	server, err := m.StartGattServer()
	if err != nil {
		return err
	}
	defer server.Stop()

	// The writable, indicatable characteristic is the data pipe inbound
	// connections ride on.
	if _, err := server.CreateCharacteristic(
		profile.ServiceUUID,
		profile.PipeCharacteristicUUID,
		radio.PermissionRead|radio.PermissionWrite,
		radio.PropertyWrite|radio.PropertyIndicate,
	); err != nil {
		return err
	}

	if profile.ServiceData != "" {
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
	}

	ss, err := m.OpenServerSocket(profile.ServiceUUID)
	if err != nil {
		return err
	}
	defer ss.Close()

	// Unblock Accept on Ctrl+C.
	go func() {
		<-ctx.Done()
		ss.Close()
	}()

	fmt.Print(profile.Summary())
	fmt.Println("Listening, press Ctrl+C to stop")

	for {
		sock, err := ss.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := serveSocket(ctx, sock, symlink); err != nil {
			logger.WithField("error", err).Warn("Connection bridge failed")
		}
	}
}

// serveSocket bridges one accepted socket to a PTY and blocks until the peer
// disconnects or the context ends.
func serveSocket(ctx context.Context, sock *stream.Socket, symlink string) error {
	b, err := bridge.New(sock, bridge.Options{TTYSymlinkPath: symlink})
	if err != nil {
		sock.Close()
		return err
	}
	defer b.Close()

	fmt.Printf("Peer connected, bridged to %s\n", b.TTYName())
	if link := b.TTYSymlink(); link != "" {
		fmt.Printf("Symlink: %s\n", link)
	}

	waitSocketClosed(ctx, sock)
	fmt.Println("Peer disconnected")
	return nil
}

// waitSocketClosed blocks until the socket closes or the context ends.
func waitSocketClosed(ctx context.Context, sock *stream.Socket) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sock.IsClosed() {
				return
			}
		}
	}
}
