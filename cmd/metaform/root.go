package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	metaform "github.com/metaform/metaform-management"
	"github.com/metaform/metaform-management/internal/config"
	"github.com/metaform/metaform-management/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "metaform",
	Short: "Metaform presence service",
	Long: `Tracks which form replies are open for editing and tells every connected
browser tab when a reply gets locked or unlocked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level")
	rootCmd.PersistentFlags().String("store", "", "Override store.backend")
}

// loadConfig merges defaults, the config file, METAFORM_ env vars and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]string{
		"log.level":     "log-level",
		"store.backend": "store",
		"server.addr":   "addr",
	}
	for key, flag := range overrides {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	return config.Load(v)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level, cfg.Log.Format)
}

// openService loads config, applies tweaks and wires the service. The caller must Close it.
func openService(ctx context.Context, cmd *cobra.Command, tweaks ...func(*config.Config)) (*metaform.Service, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	logger := newLogger(cfg)

	svc, err := metaform.Open(ctx, cfg, metaform.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}
