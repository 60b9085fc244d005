package main

import (
	"github.com/riftlayer/picas"
	"github.com/spf13/cobra"
)

var statsLayers int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report aggregate capacity and occupancy for a PICAS configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkArgs(args, 0, "picasctl stats"); err != nil {
			return err
		}

		cfg := picas.DefaultConfig()
		if statsLayers > 0 {
			cfg.NumLayers = statsLayers
		}
		printVerbose("using %d memory layers\n", cfg.NumLayers)

		a, err := picas.New(cfg)
		if err != nil {
			printError("failed to build allocator: %v\n", err)
			return err
		}
		defer a.Close()

		logger.Info("stats", "layers", cfg.NumLayers)

		st := a.Stats()
		if jsonOut {
			return printJSON(st)
		}
		printInfo("total_reserved=%d total_capacity=%d total_live_est=%d\n", st.TotalReserved, st.TotalCapacity, st.TotalLiveEst)
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLayers, "layers", 0, "override the number of memory layers (0 = default)")
	rootCmd.AddCommand(statsCmd)
}
