package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simfleet/simfleet/internal/api"
)

var (
	startPlayers int
	startSlot    int
	stopSlot     int
)

var startCmd = &cobra.Command{
	Use:   "start <game>",
	Short: "Start a game across the fleet",
	Long: `Start a game. With --players N the hub forms a multiplayer session
of the N lowest-id online machines (lowest id hosts). With --slot the game
runs singleplayer on one rig. Without either flag every online machine
joins one session.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		game := args[0]
		if startPlayers > 0 && startSlot > 0 {
			return fmt.Errorf("--players and --slot cannot be combined")
		}
		var (
			resp api.SessionResponse
			err  error
		)
		switch {
		case startSlot > 0:
			resp, err = client().StartSlot(cmd.Context(), game, startSlot)
		case startPlayers > 0:
			resp, err = client().StartMultiplayer(cmd.Context(), game, startPlayers)
		default:
			resp, err = client().StartAll(cmd.Context(), game)
		}
		if err != nil {
			return err
		}
		fmt.Printf("session %s: %d/%d configured, %d started\n",
			resp.SessionID, resp.ConfiguredCount, resp.NumPlayers, resp.SuccessCount)
		printResults(resp.Results)
		if resp.SuccessCount < resp.NumPlayers {
			return fmt.Errorf("%d of %d machines did not start", resp.NumPlayers-resp.SuccessCount, resp.NumPlayers)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop running games",
	Long:  `Stop every online machine, or just one rig with --slot.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			resp api.StopResponse
			err  error
		)
		if stopSlot > 0 {
			resp, err = client().StopSlot(cmd.Context(), stopSlot)
		} else {
			resp, err = client().StopAll(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Printf("%d machines stopped\n", resp.SuccessCount)
		printResults(resp.Results)
		return nil
	},
}

func init() {
	startCmd.Flags().IntVar(&startPlayers, "players", 0, "multiplayer session size")
	startCmd.Flags().IntVar(&startSlot, "slot", 0, "run singleplayer on one slot")
	stopCmd.Flags().IntVar(&stopSlot, "slot", 0, "stop a single slot")
}
