package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vx-labs/store-sync/broker"
	"github.com/vx-labs/store-sync/cli"
	"go.uber.org/zap"
)

func main() {
	config := cli.NewViper()
	root := &cobra.Command{
		Use:   "storesync",
		Short: "Keep connected contexts in sync with a shared state",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cli.Bootstrap()
			logger := ctx.Logger
			conf, err := cli.LoadConfig(config)
			if err != nil {
				logger.Fatal("failed to load configuration", zap.Error(err))
			}
			container, err := cli.BuildContainer(conf)
			if err != nil {
				logger.Fatal("failed to build state container", zap.Error(err))
			}
			adapter, release, err := cli.OpenStore(conf)
			if err != nil {
				logger.Fatal("failed to open persistent state storage", zap.Error(err))
			}
			ctx.OnShutdown("persistent state storage", release)

			b := broker.New(logger, container, adapter, conf.Settings())
			ctx.OnShutdown("broker", b.Close)

			transports, err := cli.Listen(config, logger)
			if err != nil {
				logger.Fatal("failed to start listeners", zap.Error(err))
			}
			for idx := range transports {
				t := transports[idx]
				b.Attach(t)
				ctx.OnShutdown(fmt.Sprintf("listener %d", idx), t.Close)
			}
			backup, _ := adapter.(cli.Backuper)
			server, err := cli.ServeHTTPHealth(config, logger, b, backup, b.Metrics())
			if err != nil {
				logger.Fatal("failed to start healthcheck endpoint", zap.Error(err))
			}
			if server != nil {
				ctx.OnShutdown("healthcheck endpoint", func() error {
					return cli.ShutdownServer(server)
				})
			}
			logger.Info("store sync daemon started",
				zap.Strings("persistent_states", conf.PersistentStates),
				zap.Strings("ignored_mutations", conf.IgnoredMutations))
			ctx.Run()
		},
	}
	cli.AddConfigFlags(root, config)
	cli.AddStoreFlags(root, config)
	cli.AddListenerFlags(root, config)
	root.Execute()
}
