package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the subagent's session state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var v sessionView
			if err := getJSON("/session", &v); err != nil {
				return err
			}
			out, err := formatSession(v, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func regionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List registered regions and their snapshot sizes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var views []regionView
			if err := getJSON("/regions", &views); err != nil {
				return err
			}
			out, err := formatRegions(views, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func setTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-transactions",
		Short: "List live two-phase SET transactions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var views []setTransactionView
			if err := getJSON("/set-transactions", &views); err != nil {
				return err
			}
			out, err := formatSetTransactions(views, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
