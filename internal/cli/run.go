package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/okian/meshrsa/internal/app"
)

func NewRunCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load then fit",
		Long:  "Runs load and, when every unit loaded or was skipped, fit on the same worker pool.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, deps, func(ctx context.Context, svc *app.Service) error {
				loaded, err := svc.Load(ctx)
				printLoad(cmd.OutOrStdout(), loaded)
				if err != nil {
					return err
				}
				fitted, err := svc.Fit(ctx)
				printFit(cmd.OutOrStdout(), fitted)
				return err
			})
		},
	}
}
