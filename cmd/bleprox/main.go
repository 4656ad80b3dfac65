package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bleprox",
	Short: "BLE proximity socket tool",
	Long: `BLE proximity networking tool that provides:

- Advertise a service with opaque service data
- Scan for nearby peers advertising a service
- Listen for inbound proximity connections and bridge them to a PTY
- Connect to a peer's service and bridge the socket to a PTY

Built on a blocking socket/stream emulation over the asynchronous BLE stack.`,
}

// formatVersion renders the build metadata injected at link time.
func formatVersion(v string) string {
	if v != "dev" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return fmt.Sprintf("%s (commit %s, built %s)", v, commit, date)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.Version = formatVersion(version)

	rootCmd.AddCommand(advertiseCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(connectCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("profile", "", "YAML service profile file")
}
