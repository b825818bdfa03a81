package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/htmloverlay/internal/app"
	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/logging"
)

var evalCmd = &cobra.Command{
	Use:   "eval [flags] <script | ->",
	Short: "Load a page, evaluate one script and print its result",
	Example: `  overlayd eval --url menus/main.html 'document.title'
  echo 'document.body.innerHTML' | overlayd eval --url https://example.com -`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().String("url", "about:blank", "page to load before evaluating")
	evalCmd.Flags().Duration("timeout", 30*time.Second, "overall deadline for loading and evaluating")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Server.StartURL, _ = cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	script := args[0]
	if script == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		script = string(data)
	}

	logger := logging.NewNop()
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	}

	host, err := app.New(cfg, logger.Logger, nil)
	if err != nil {
		return err
	}
	defer host.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := host.Start(ctx); err != nil {
		return err
	}
	if err := host.Pages.WaitReady(ctx); err != nil {
		return fmt.Errorf("page %s not ready: %w", cfg.Server.StartURL, err)
	}

	result, err := host.Engine.Eval(ctx, script)
	if err != nil {
		var evalErr *bridge.EvaluationError
		if errors.As(err, &evalErr) {
			return fmt.Errorf("uncaught: %s", evalErr.Message)
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}
