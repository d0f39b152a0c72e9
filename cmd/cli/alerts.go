package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var alertsFile string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Generate smart alerts for a shipments JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := bootstrap()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shipments, err := readShipments(alertsFile)
		if err != nil {
			return err
		}
		a, err := buildApp(ctx, cfg, logrus.StandardLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		alerts, err := a.engine.GenerateAlerts(ctx, shipments)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), alerts)
	},
}

func init() {
	alertsCmd.Flags().StringVarP(&alertsFile, "file", "f", "-", "shipments JSON file (- for stdin)")
	rootCmd.AddCommand(alertsCmd)
}
