package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ruscigno/vprism/pkg/models"
)

var symbolsMarket string

// symbolsCmd lists the built-in symbol catalog of a market.
var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List known symbols for a market",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(rt.cfg, rt.logger)
		symbols, err := a.service.Symbols(models.ParseMarket(symbolsMarket))
		if err != nil {
			return err
		}
		for _, s := range symbols {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vprism %s\n", appVersion(rt.cfg))
	},
}

func init() {
	RootCmd.AddCommand(symbolsCmd, versionCmd)

	symbolsCmd.Flags().StringVar(&symbolsMarket, "market", "us", "market: us, cn, hk, eu, jp, global")
}
