package cli

import (
	"context"

	"logitrack/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	evaluateFile   string
	evaluateDryRun bool
)

// 由 cron 等外部定时器触发的单次评估
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one automation pass over a shipments JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := bootstrap()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shipments, err := readShipments(evaluateFile)
		if err != nil {
			return err
		}
		a, err := buildApp(ctx, cfg, logrus.StandardLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.Evaluate(ctx, shipments, services.EvaluateOptions{DryRun: evaluateDryRun})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	evaluateCmd.Flags().StringVarP(&evaluateFile, "file", "f", "-", "shipments JSON file (- for stdin)")
	evaluateCmd.Flags().BoolVar(&evaluateDryRun, "dry-run", false, "report matches without executing actions")
	rootCmd.AddCommand(evaluateCmd)
}
