package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/okian/meshrsa/internal/app"
)

func NewLoadCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Build per-subject source tensors from raw trials",
		Long:  "Reads every trial of every subject and hemisphere, downsamples it and persists one tensor per subject and hemisphere. Unreadable trials are substituted with NaN and logged.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, deps, func(ctx context.Context, svc *app.Service) error {
				report, err := svc.Load(ctx)
				printLoad(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
}
