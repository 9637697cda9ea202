// Package cli provides the command-line interface for chatdf.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rajeee/chatdf/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config and logger
	cfg         config.Config
	logger      *slog.Logger
	closeLogger = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatdf",
	Short: "Chat with your datasets from the terminal",
	Long: `chatdf talks to a ChatDF backend: it opens the real-time session,
posts your question and renders the streamed answer, including the model's
reasoning, tool calls and the SQL it ran.

Configuration comes from CHATDF_* environment variables and an optional
YAML file (--config or CHATDF_CONFIG).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// A live view owns the terminal, so logs go to the file only.
		if wantsLiveView(cmd) {
			logger, closeLogger = config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
		} else {
			logger, closeLogger = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := closeLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $CHATDF_CONFIG)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chatdf version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chatdf %s\n", Version)
	},
}
