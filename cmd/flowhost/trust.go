package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowhost-dev/flowhost/internal/infrastructure/trust"
)

var trustBoardID string

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage package trust decisions",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded trust decisions",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		gate, _, err := openTrustGate()
		if err != nil {
			return err
		}
		decisions := gate.Decisions()
		if len(decisions) == 0 {
			fmt.Fprintln(os.Stdout, "no trust decisions recorded")
			return nil
		}
		for _, d := range decisions {
			if d.Scope == trust.ScopeBoard {
				fmt.Fprintf(os.Stdout, "%s  %s (board %s)\n", d.Digest, d.Scope, d.BoardID)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s  %s\n", d.Digest, d.Scope)
		}
		return nil
	},
}

var trustGrantCmd = &cobra.Command{
	Use:   "grant <digest>",
	Short: "Trust a package digest",
	Long: `Grant records a trust decision for a package digest. Without --board
the grant applies everywhere; with --board it applies to that board only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		gate, _, err := openTrustGate()
		if err != nil {
			return err
		}
		decision := trust.Decision{Digest: args[0], Scope: trust.ScopePackage}
		if trustBoardID != "" {
			decision.Scope = trust.ScopeBoard
			decision.BoardID = trustBoardID
		}
		if err := gate.Grant(decision); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "granted %s (%s)\n", args[0], decision.Scope)
		return nil
	},
}

var trustRevokeCmd = &cobra.Command{
	Use:   "revoke <digest>",
	Short: "Remove every decision for a package digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		gate, _, err := openTrustGate()
		if err != nil {
			return err
		}
		if err := gate.Revoke(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "revoked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustListCmd, trustGrantCmd, trustRevokeCmd)
	trustGrantCmd.Flags().StringVar(&trustBoardID, "board", "", "limit the grant to one board")
}
