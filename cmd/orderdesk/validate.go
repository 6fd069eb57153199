package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk/internal/cli"
	"github.com/labwire/orderdesk/pkg/rules"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <material text>",
	Short: "Resolve a material name to its canonical subtype",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		// The model stage needs a live engine; without a key it is skipped.
		var opts []cli.BuildOption
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.EngineReady() != nil {
			opts = append(opts, cli.Offline())
		}

		app, err := buildApp(cmd, opts...)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Assistant.Normalize(cmd.Context(), strings.Join(args, " "), category)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Resolved {
			return errors.New("material could not be resolved")
		}
		return nil
	},
}

var validateBridgeCmd = &cobra.Command{
	Use:   "validate-bridge <positions>",
	Short: "Check FDI positions against the bridge rules",
	Example: `  orderdesk validate-bridge 14-16
  orderdesk validate-bridge "11, 21, 22"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRulesFor(cmd)
		if err != nil {
			return err
		}
		report := r.ValidateBridge(strings.Join(args, " "))
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Valid {
			return errors.New(report.Message)
		}
		return nil
	},
}

var validateTeethCmd = &cobra.Command{
	Use:   "validate-teeth <positions>",
	Short: "Validate and describe FDI tooth numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report := rules.ValidateTeeth(strings.Join(args, " "))
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Valid {
			return errors.New(report.Message)
		}
		return nil
	},
}

// loadRulesFor returns the configured rule tables without opening a store.
func loadRulesFor(cmd *cobra.Command) (*rules.Rules, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.RulesFile == "" {
		return rules.Default(), nil
	}
	rc, err := rules.LoadConfig(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return rules.New(rc)
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(validateBridgeCmd)
	rootCmd.AddCommand(validateTeethCmd)
	normalizeCmd.Flags().StringP("category", "c", "pfm", "Material category: pfm, metal-free or full-cast")
}
