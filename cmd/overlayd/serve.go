package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overlay server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides config)")
	serveCmd.Flags().String("port", "", "listen port (overrides config)")
	serveCmd.Flags().String("start-url", "", "page to load at startup")
	serveCmd.Flags().Bool("dev", false, "development logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if host, _ := flags.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := flags.GetString("port"); port != "" {
		cfg.Server.Port = port
	}
	if uri, _ := flags.GetString("start-url"); uri != "" {
		cfg.Server.StartURL = uri
	}
	if dev, _ := flags.GetBool("dev"); dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
