package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/htmloverlay/internal/app"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/htmloverlay/internal/loader"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List local pages the loader will serve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		pages, err := loader.New(app.LoaderConfig(cfg), logging.NewNop().Logger)
		if err != nil {
			return err
		}
		assets, err := pages.Assets(cmd.Context())
		if err != nil {
			return err
		}
		for _, rel := range assets {
			fmt.Fprintln(cmd.OutOrStdout(), loader.AssetURI(rel))
		}
		return nil
	},
}
