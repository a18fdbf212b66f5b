package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"robotcrypt/dataprovider"
	"robotcrypt/notification/discord"
	"robotcrypt/pkg/app"
	"robotcrypt/pkg/broker"
	"robotcrypt/pkg/logger"
	"robotcrypt/utilities"
	"robotcrypt/web"
)

var (
	cfgFile string
	cfg     utilities.AppConfig
	log     *zap.Logger
)

// rootCmd represents the base command for the robot-crypt CLI.
var rootCmd = &cobra.Command{
	Use:   "robotcrypt",
	Short: "robot-crypt hybrid trading decision engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("json")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if err := cfg.Normalize(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := dataprovider.NewSQLiteStore(cfg.Database, log)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		store.StartScheduledCleanup(ctx, 6*time.Hour, cfg.Database.RetentionDays)

		marketData := dataprovider.NewReplayProvider(cfg.MarketData.ReplayDataDir)
		cache := dataprovider.NewSeriesCache(marketData, store, cfg.MarketData, log)
		sentiment := dataprovider.NewFearGreedClient(cfg.Sentiment, log, nil)
		gateway := broker.NewPaperGateway(cfg.Execution.PaperSlippagePct, log)
		sink := discord.NewClient(cfg.Discord, log)

		engine, err := app.NewEngine(&cfg, log, cache, sentiment, gateway, store, sink)
		if err != nil {
			return err
		}

		if cfg.Web.Enabled {
			web.StartServer(ctx, cfg.Web, log, engine)
		}
		return engine.Run(ctx)
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.json", "config file path")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
