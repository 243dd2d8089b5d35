// Command qactl is the operator CLI of the Q&A search indexes: it builds
// collections from the records database, runs searches against the local
// index files, shows index statistics and queues rebuilds on Kafka.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ippousyuga/search-lucene/pkg/config"
	"github.com/ippousyuga/search-lucene/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "qactl",
		Short:        "Build, query and inspect the question and answer indexes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger.Setup(config.LoggingConfig{Level: cfg.Logging.Level, Format: "text"})
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file")
	root.AddCommand(
		a.buildCmd(),
		a.searchCmd(),
		a.statsCmd(),
		a.enqueueCmd(),
	)
	return root
}
