package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/okian/meshrsa/internal/app"
)

func NewFitCmd(deps *Dependencies) *cobra.Command {
	var lagMs float64

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the lagged searchlight GLM over persisted tensors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, deps, func(ctx context.Context, svc *app.Service) error {
				if cmd.Flags().Changed("lag") {
					deps.Config.LagMs = lagMs
				}
				report, err := svc.Fit(ctx)
				printFit(cmd.OutOrStdout(), report)
				return err
			})
		},
	}

	cmd.Flags().Float64Var(&lagMs, "lag", 0, "override lag_ms")

	return cmd
}
