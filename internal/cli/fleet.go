package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/simfleet/simfleet/internal/api"
)

var setupsCmd = &cobra.Command{
	Use:   "setups",
	Short: "List every known setup machine and its slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := client().Setups(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLOT\tADDR\tNAME\tSTATUS\tGAME\tONLINE")
		for _, s := range resp.Setups {
			name, status, game := "-", "-", "-"
			if s.Heartbeat != nil {
				name = s.Heartbeat.Name
				status = s.Heartbeat.Status
				if s.Heartbeat.CurrentGame != "" {
					game = s.Heartbeat.CurrentGame
				}
			}
			slot := "-"
			if s.Slot > 0 {
				slot = fmt.Sprintf("%d", s.Slot)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", slot, s.Addr, name, status, game, s.Online)
		}
		return w.Flush()
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show recent session history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := client().Sessions(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tGAME\tPLAYERS\tCONFIGURED\tSTARTED\tAT")
		for _, s := range resp.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				s.SessionID, s.Game, s.NumPlayers, s.ConfiguredCount, s.SuccessCount, s.StartedAt)
		}
		return w.Flush()
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <addr>",
	Short: "Manually register a setup machine by ip:port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().RegisterSetup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("registered %s\n", args[0])
		return nil
	},
}

func printResults(results []api.MachineResultItem) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tADDR\tNAME\tROLE\tRESULT\tERROR")
	for _, r := range results {
		role := r.Role
		if role == "" {
			role = "-"
		}
		errMsg := r.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Slot, r.Addr, r.Name, role, r.Status, errMsg)
	}
	_ = w.Flush()
}
