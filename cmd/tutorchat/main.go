// Command tutorchat works through a problem with a remote tutor, one
// question and answer at a time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"TutorChat/internal/config"
)

var version = "0.1.0"

func main() {
	// a missing .env is fine; the environment is used as is
	_ = godotenv.Load()

	rootCmd, err := newRootCmd(config.New(), &config.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. cfg is filled from v once the flags
// are parsed, so subcommands must only read it from their Run functions.
func newRootCmd(v *viper.Viper, cfg *config.Config) (*cobra.Command, error) {
	var noTyping, noTelemetry bool

	rootCmd := &cobra.Command{
		Use:   "tutorchat",
		Short: "Work through a problem with a remote tutor",
		Long: `tutorchat: a terminal client for a turn-based tutoring service.

State a problem, then answer the tutor's questions one at a time. The
session is stored locally and resumed on the next start until you end it
with /exit (or ctrl+x in the full-screen interface).

Configuration is read from TUTOR_* environment variables (and an optional
.env file); flags override them.`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(v)
			if err != nil {
				return err
			}
			*cfg = *loaded
			if noTyping {
				cfg.Typing = false
			}
			if noTelemetry {
				cfg.Telemetry = false
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTutor(cmd.Context(), cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("backend-url", config.DefaultBackendURL, "Base URL of the tutor service")
	pf.String("db", config.DefaultDBPath, "SQLite file holding the stored session")
	pf.String("log-dir", config.DefaultLogDir, "Directory for log, trace and metric files")
	pf.Bool("debug", false, "Enable debug logging")

	f := rootCmd.Flags()
	f.Bool("plain", false, "Use the line-mode interface instead of the full-screen one")
	f.Bool("ephemeral", false, "Keep the session in memory only")
	f.Bool("new", false, "Start a new session even if one is stored")
	f.String("problem", "", "Problem to work on (skips the prompt)")
	f.BoolVar(&noTyping, "no-typing", false, "Show tutor messages at once instead of word by word")
	f.Duration("typing-tick", config.DefaultTypingTick, "Delay between revealed words")
	f.Duration("timeout", 0, "Per-request timeout (0 for none)")
	f.BoolVar(&noTelemetry, "no-telemetry", false, "Do not export traces and metrics")

	if err := config.BindFlags(v, pf); err != nil {
		return nil, err
	}
	if err := config.BindFlags(v, f); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(newSessionCmd(cfg))
	return rootCmd, nil
}
