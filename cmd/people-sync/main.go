package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aserto-dev/logger"
	"github.com/spf13/cobra"

	"github.com/acmecorp/people-sync/pkg/app"
	"github.com/acmecorp/people-sync/pkg/config"
	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/acmecorp/people-sync/pkg/keycloak"
	syncer "github.com/acmecorp/people-sync/pkg/sync"
	"github.com/acmecorp/people-sync/pkg/version"
)

var (
	flagConfigPath string
	flagDryRun     bool
)

var rootCmd = &cobra.Command{
	Use:           "people-sync [flags]",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("people-sync %s\n", version.GetInfo().Version)
	},
}

var cmdRun = &cobra.Command{
	Use:   "run [args]",
	Short: "Start the sync service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(flagConfigPath)
	},
}

var cmdSync = &cobra.Command{
	Use:   "sync [args]",
	Short: "Run one sync and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncOnce(flagConfigPath, flagDryRun)
	},
}

// nolint: gochecknoinits
func init() {
	cmdRun.Flags().StringVarP(&flagConfigPath, "config", "c", "", "config path")
	cmdSync.Flags().StringVarP(&flagConfigPath, "config", "c", "", "config path")
	cmdSync.Flags().BoolVar(&flagDryRun, "dry-run", false, "fetch and map records without writing to the index")
	rootCmd.AddCommand(cmdRun, cmdSync)
}

func main() {
	rootCmd.AddCommand(
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

func serve(cfgPath string) error {
	server, err := app.NewServer(cfgPath, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return server.Shutdown(ctx)
	}
}

// syncOnce runs the pipeline without the HTTP boundary, for schedulers that
// invoke the container directly.
func syncOnce(cfgPath string, dryRun bool) error {
	cfg, err := config.NewConfig(cfgPath)
	if err != nil {
		return err
	}

	if dryRun {
		cfg.Sync.DryRun = true
	}

	appLogger, err := logger.NewLogger(os.Stdout, os.Stderr, &cfg.Logging)
	if err != nil {
		return err
	}

	source := keycloak.New(&cfg.Source, appLogger)

	var deliverer index.Deliverer

	if cfg.Sync.DryRun {
		deliverer = index.NewDryRun(appLogger)
	} else {
		deliverer, err = index.NewDeliverer(&cfg.Target, appLogger)
		if err != nil {
			return err
		}
	}

	orchestrator := syncer.New(source, deliverer, &cfg.Sync, appLogger)

	summary, err := orchestrator.Run(context.Background(), "cli")
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	if summary.Error != nil {
		return fmt.Errorf("sync failed: %s", summary.Error.Message)
	}

	return nil
}
