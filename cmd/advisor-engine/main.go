// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the advisor-engine CLI.
// Implements: prd005-chat, prd001-knowledge-base (CLI surface).
// See docs/ARCHITECTURE § Pipeline Interface, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/advisor-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// secretEnvKeys maps secret file names to the environment variables the
// rest of the configuration reads them from.
var secretEnvKeys = map[string]string{
	"gemini-api-key": "GEMINI_API_KEY",
	"kb-api-key":     "ADVISOR_ENGINE_KNOWLEDGE_BASE_API_KEY",
}

// rootCmd is the base command for the advisor-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "advisor-engine",
	Short: "Multi-agent credit-card advisor over a product knowledge base",
	Long: `advisor-engine answers customer questions about credit-card products by
coordinating planner, researcher, and writer agents over a retrieval-augmented
knowledge base. Intermediate and final results stream to the chat surface and
every pipeline stage records a tracing span.

Subcommands: serve runs the chat surface, ask answers a single question from
the terminal, and kb builds, queries, and inspects the local product index.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("secrets")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		// Secrets fill environment gaps; explicit environment wins.
		for name, env := range secretEnvKeys {
			if v, ok := s[name]; ok && os.Getenv(env) == "" {
				if err := os.Setenv(env, v); err != nil {
					return fmt.Errorf("exporting secret %s: %w", name, err)
				}
			}
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./advisor-engine.yaml or ~/.config/advisor-engine/config.yaml)")
	rootCmd.PersistentFlags().String("secrets", ".secrets/", "directory of one-file-per-secret credentials")
	rootCmd.PersistentFlags().Bool("verbose", false, "log at debug level")
}

func initConfig() {
	// A local .env beside the checkout is convenient in development;
	// missing files are fine.
	_ = godotenv.Load()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("advisor-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "advisor-engine"))
		}
	}

	viper.SetEnvPrefix("ADVISOR_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
