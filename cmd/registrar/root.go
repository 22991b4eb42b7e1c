package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"registrar/internal/config"
	"registrar/internal/logging"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrar",
		Short: "Structured data extraction from pathology reports",
		Long: `registrar classifies free-text pathology reports, structures eligible ones
and runs the organ-specific extractors against a generative backend.

Configuration comes from REGISTRAR_* environment variables, optionally merged
over the file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, json or toml)")
	cmd.PersistentFlags().StringP("model", "m", "", "Model alias for the primary backend (default from config)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewRandomCmd())
	cmd.AddCommand(NewRegistryCmd())
	cmd.AddCommand(NewNormalizeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("REGISTRAR_CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		if _, err := cfg.ResolveModel(model); err != nil {
			return nil, err
		}
		cfg.Backend.Primary.Model = model
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, extra io.Writer) *slog.Logger {
	var w io.Writer = os.Stderr
	if extra != nil {
		w = io.MultiWriter(os.Stderr, extra)
	}
	logger := logging.New(cfg.Log, w)
	slog.SetDefault(logger)
	return logger
}
