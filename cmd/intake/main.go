// Command intake imports clinic workbooks from the command line using the
// same configuration and store as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/clinicops/intake/internal/application"
	"github.com/clinicops/intake/internal/config"
	"github.com/clinicops/intake/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "intake",
		Short:         "Import clinic spreadsheets into the patient store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(mapCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(templatesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// openApp loads configuration and starts the import service. Logs go to
// stderr so command output stays parseable.
func openApp(ctx context.Context) (*application.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return application.New(ctx, cfg, logger)
}

// withApp runs fn with a started App and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *application.App) error) error {
	ctx := cmd.Context()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		app.Close(closeCtx)
	}()
	return fn(ctx, app)
}
