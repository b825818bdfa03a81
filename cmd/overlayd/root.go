package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/config"
)

var rootCmd = &cobra.Command{
	Use:   "overlayd",
	Short: "Headless HTML overlay runtime",
	Long: `overlayd hosts an HTML overlay on a headless web surface and lets
native code evaluate scripts in it, receive page messages and DOM events,
and drive navigation over HTTP and a WebSocket stream.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("asset-root", "", "directory holding local pages")

	rootCmd.AddCommand(serveCmd, evalCmd, assetsCmd)
}

// loadConfig reads the config file named by --config, then applies the
// flags shared by every command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if root, _ := cmd.Flags().GetString("asset-root"); root != "" {
		cfg.Loader.AssetRoot = root
	}
	return cfg, nil
}
