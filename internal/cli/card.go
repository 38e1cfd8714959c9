package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dmorgan81/illustrate/internal/handler"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func (a *app) cardCommand() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "card <question> <answer>",
		Short: "Illustrate a single card and print the result as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, injector, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = injector.Shutdown() }()

			h := do.MustInvoke[*handler.Handler](injector)
			res := h.GenerateImage(ctx, id, args[0], args[1], cfg.Batch.OutputDir)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("card %d: %s", id, res.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 1, "card id used for the image file name")
	return cmd
}
