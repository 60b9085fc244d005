package main

import (
	"fmt"
	"os"

	"github.com/riftlayer/picas"
	"github.com/spf13/cobra"
)

var (
	traceLayers int
	traceOps    int
	traceSeed   int64
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run a synthetic workload and dump its trace log as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkArgs(args, 0, "picasctl trace"); err != nil {
			return err
		}

		cfg := picas.DefaultConfig()
		if traceLayers > 0 {
			cfg.NumLayers = traceLayers
		}
		cfg.EnableTracing = true
		printVerbose("using %d memory layers, %d ops\n", cfg.NumLayers, traceOps)

		a, err := picas.New(cfg)
		if err != nil {
			printError("failed to build allocator: %v\n", err)
			return err
		}
		defer a.Close()

		logger.Info("trace starting", "ops", traceOps, "layers", cfg.NumLayers)
		runWorkload(a, traceOps, traceSeed)

		if err := a.Tracer().WriteCSV(os.Stdout); err != nil {
			printError("failed to write trace csv: %v\n", err)
			return fmt.Errorf("write trace csv: %w", err)
		}
		return nil
	},
}

func init() {
	traceCmd.Flags().IntVar(&traceLayers, "layers", 0, "override the number of memory layers (0 = default)")
	traceCmd.Flags().IntVar(&traceOps, "ops", 1000, "number of malloc/free operations to run before dumping the trace")
	traceCmd.Flags().Int64Var(&traceSeed, "seed", 1, "PRNG seed for the synthetic workload")
	rootCmd.AddCommand(traceCmd)
}
