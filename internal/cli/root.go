package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simfleet/simfleet/internal/hubclient"
)

var hubURL string

var rootCmd = &cobra.Command{
	Use:   "simfleet",
	Short: "Control a fleet of racing-simulator machines",
	Long: `simfleet talks to the fleet hub: list discovered setup machines,
start singleplayer or multiplayer sessions across the fleet, and stop
whatever is running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "simfleet: %v\n", err)
		return err
	}
	return nil
}

func client() *hubclient.Client {
	return hubclient.New(hubURL)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&hubURL, "hub", "http://localhost:8000", "hub base URL")
	rootCmd.AddCommand(setupsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(registerCmd)
}
