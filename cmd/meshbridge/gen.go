package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/meshbridge/pkg/models"
)

func newGenCmd() *cobra.Command {
	var (
		params models.Params
		seeds  []int64
	)
	defaults := models.DefaultParams()

	cmd := &cobra.Command{
		Use:   "gen <prompt>",
		Short: "Generate (or fetch from cache) one asset per seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("seeds") {
				resp, err := a.svc.GenerateBatch(cmd.Context(), models.BatchRequest{
					Prompt:        args[0],
					Seeds:         seeds,
					GuidanceScale: params.GuidanceScale,
					Steps:         params.Steps,
				})
				if err != nil {
					return err
				}
				return printJSON(resp)
			}

			resp, err := a.svc.GenerateOnce(cmd.Context(), params.Request(args[0]))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	addParamFlags(cmd, &params, defaults)
	cmd.Flags().Int64SliceVar(&seeds, "seeds", nil, "generate a batch, one asset per seed")
	return cmd
}

func addParamFlags(cmd *cobra.Command, p *models.Params, defaults models.Params) {
	cmd.Flags().Int64Var(&p.Seed, "seed", defaults.Seed, "generation seed")
	cmd.Flags().Float64Var(&p.GuidanceScale, "guidance-scale", defaults.GuidanceScale, "classifier-free guidance scale")
	cmd.Flags().IntVar(&p.Steps, "steps", defaults.Steps, "number of inference steps")
}
