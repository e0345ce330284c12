package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ruscigno/vprism/pkg/models"
)

var fetchFlags struct {
	provider  string
	market    string
	timeframe string
	limit     int
	start     string
	end       string
	async     bool
}

// fetchCmd fetches data for one or more symbols and prints the responses as JSON.
var fetchCmd = &cobra.Command{
	Use:   "fetch <symbol>...",
	Short: "Fetch market data for symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := models.Query{
			Asset:     models.AssetStock,
			Market:    models.ParseMarket(fetchFlags.market),
			Provider:  fetchFlags.provider,
			Timeframe: models.Timeframe(fetchFlags.timeframe),
			Limit:     fetchFlags.limit,
		}
		if fetchFlags.start != "" {
			t, err := time.Parse(time.DateOnly, fetchFlags.start)
			if err != nil {
				return err
			}
			base.Start = &t
		}
		if fetchFlags.end != "" {
			t, err := time.Parse(time.DateOnly, fetchFlags.end)
			if err != nil {
				return err
			}
			base.End = &t
		}

		batch := models.BatchQuery{AsyncProcessing: fetchFlags.async}
		for _, symbol := range args {
			batch.Queries = append(batch.Queries, base.WithSymbols(symbol))
		}

		a := newApp(rt.cfg, rt.logger)
		items := a.service.RouteBatch(cmd.Context(), batch)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

func init() {
	RootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchFlags.provider, "provider", "", "provider name (default from config)")
	fetchCmd.Flags().StringVar(&fetchFlags.market, "market", "", "market: us, cn, hk, eu, jp, global")
	fetchCmd.Flags().StringVar(&fetchFlags.timeframe, "timeframe", "1d", "bar interval: 1m 5m 15m 30m 1h 1d 1w 1M")
	fetchCmd.Flags().IntVar(&fetchFlags.limit, "limit", 30, "most recent records per symbol")
	fetchCmd.Flags().StringVar(&fetchFlags.start, "start", "", "start date YYYY-MM-DD")
	fetchCmd.Flags().StringVar(&fetchFlags.end, "end", "", "end date YYYY-MM-DD")
	fetchCmd.Flags().BoolVar(&fetchFlags.async, "async", true, "fetch symbols concurrently")
}
