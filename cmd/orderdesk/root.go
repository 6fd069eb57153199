package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk/internal/cli"
	"github.com/labwire/orderdesk/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "orderdesk is a conversational order desk for dental labs",
	Long: `orderdesk collects dental lab orders (restoration, teeth, material, product,
shade, patient) through a bounded reasoning-engine conversation, validated by
deterministic rules.`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a dotenv file (missing file is ignored)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
}

// loadConfig reads the env file, the config file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil && cmd.Flags().Changed("env-file") {
		return nil, nil, err
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	debug, _ := cmd.Flags().GetBool("debug")
	return cfg, cli.NewLogger(*cfg, debug), nil
}

// buildApp loads configuration and wires the assistant.
func buildApp(cmd *cobra.Command, opts ...cli.BuildOption) (*cli.App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Build(cmd.Context(), *cfg, logger, opts...)
}
