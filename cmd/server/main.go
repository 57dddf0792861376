package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ThingHost/backend/internal/infrastructure/server"
)

type flags struct {
	configFile  string
	host        string
	port        string
	appsDir     string
	dataDir     string
	wsAddr      string
	logLevel    string
	dev         bool
	noAutostart bool
	adb         bool
}

var opts flags

var rootCmd = &cobra.Command{
	Use:           "thinghost",
	Short:         "Run the ThingHost app and device server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		srv, err := server.New(cfg, logger)
		if err != nil {
			logger.Error("Failed to create server", zap.Error(err))
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := srv.Run(ctx); err != nil {
			logger.Error("Server stopped with error", zap.Error(err))
			return err
		}
		logger.Info("Server stopped")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML or TOML config file")
	pf.StringVar(&opts.host, "host", "", "API listen host")
	pf.StringVar(&opts.port, "port", "", "API listen port")
	pf.StringVar(&opts.appsDir, "apps-dir", "", "directory holding installed apps")
	pf.StringVar(&opts.dataDir, "data-dir", "", "directory holding persisted state")
	pf.StringVar(&opts.wsAddr, "devices-addr", "", "device WebSocket listen address, empty to serve on the API port")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&opts.dev, "dev", false, "development logging")
	pf.BoolVar(&opts.noAutostart, "no-autostart", false, "do not start enabled apps on boot")
	pf.BoolVar(&opts.adb, "adb", false, "enable the USB device bridge platform")

	rootCmd.AddCommand(configCmd)
}

// loadConfig layers environment, config file and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if opts.configFile != "" {
		if err := os.Setenv(config.FileEnv, opts.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("host") {
		cfg.Server.Host = opts.host
	}
	if set("port") {
		cfg.Server.Port = opts.port
	}
	if set("apps-dir") {
		cfg.Apps.Dir = opts.appsDir
	}
	if set("data-dir") {
		cfg.Apps.DataDir = opts.dataDir
	}
	if set("devices-addr") {
		cfg.Platforms.WebSocketAddr = opts.wsAddr
	}
	if set("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if set("dev") {
		cfg.Logging.Development = opts.dev
	}
	if set("no-autostart") {
		cfg.Apps.Autostart = !opts.noAutostart
	}
	if set("adb") {
		cfg.Platforms.ADBEnabled = opts.adb
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "thinghost:", err)
		os.Exit(1)
	}
}
