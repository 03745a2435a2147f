package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftsync/driftsync/internal/client"
	"github.com/driftsync/driftsync/internal/client/config"
	"github.com/driftsync/driftsync/internal/utils"
	"github.com/driftsync/driftsync/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "driftsync",
	Short:   "DriftSync client",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:      viper.ConfigFileUsed(),
			DataDir:   viper.GetString("data_dir"),
			ServerURL: viper.GetString("server_url"),
			Protocol:  viper.GetString("protocol"),
			NodeID:    viper.GetString("node_id"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		c, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("datadir", "d", config.DefaultDataDir, "Replicated data directory")
	rootCmd.Flags().StringP("server", "s", config.DefaultServerURL, "DriftSync server URL")
	rootCmd.Flags().StringP("protocol", "p", config.ProtocolLog, "Replication protocol (log or index)")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "DriftSync config file")
}

func main() {
	setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	handlers := []slog.Handler{stdoutHandler}

	logFile := filepath.Join(home, ".driftsync", "client.log")
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644); err == nil {
			handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
		} else {
			fmt.Fprintf(os.Stderr, "log file unavailable: %v\n", err)
		}
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".driftsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/driftsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("protocol", cmd.Flags().Lookup("protocol"))

	viper.SetEnvPrefix("DRIFTSYNC")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).
		Printf("%s %s\n", version.AppName, version.Short())
}
