package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/server"
	"github.com/driftsync/driftsync/internal/version"
)

func main() {
	// .env is optional, used by dev setups to point at local paths.
	godotenv.Load()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		configFile string
		addr       string
		dataDir    string
		dbPath     string
		protocol   string
		certFile   string
		keyFile    string
	)

	rootCmd := &cobra.Command{
		Use:     "driftsync-server",
		Short:   "DriftSync server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &server.Config{}
			if configFile != "" {
				loaded, err := server.LoadConfig(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Flags override the config file.
			if cmd.Flags().Changed("bind") || cfg.HTTP.Addr == "" {
				cfg.HTTP.Addr = addr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("protocol") || cfg.Protocol == "" {
				cfg.Protocol = protocol
			}
			if certFile != "" {
				cfg.HTTP.CertFile = certFile
			}
			if keyFile != "" {
				cfg.HTTP.KeyFile = keyFile
			}

			s, err := server.New(cfg)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			defer slog.Info("Bye!")
			return s.Start(cmd.Context())
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the YAML config file")
	rootCmd.Flags().StringVarP(&addr, "bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().StringVarP(&dataDir, "datadir", "d", "", "Server storage tree")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Path to the database file")
	rootCmd.Flags().StringVarP(&protocol, "protocol", "p", server.ProtocolLog, "Replication protocol (log or index)")
	rootCmd.Flags().StringVar(&certFile, "cert", "", "Path to the certificate file")
	rootCmd.Flags().StringVar(&keyFile, "key", "", "Path to the key file")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
