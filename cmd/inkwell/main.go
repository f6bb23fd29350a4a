package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/inkwell/internal/config"
	"github.com/vango-dev/inkwell/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globals holds state shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "inkwell",
		Short: "A shared canvas with global undo and redo",
		Long: `Inkwell hosts shared drawing rooms.

Every room keeps one canonical history. Any participant may undo
or redo the newest action regardless of who drew it, and every
client converges on the same canvas.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(stderr)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", config.DefaultFileName, "Path to the TOML config file")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	flags.StringVar(&g.logFormat, "log-format", "", "Log format: text, json, logfmt (default from config)")

	rootCmd.AddCommand(
		serveCmd(g),
		drawCmd(g),
		watchCmd(g),
		versionCmd(),
	)
	return rootCmd
}

// load reads the config file and builds the logger. Flags win over the file.
func (g *globals) load(stderr io.Writer) error {
	cfg, err := config.Load(g.configPath, config.Default())
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(stderr, logging.Options{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Prefix:          "inkwell",
		ReportTimestamp: true,
	})
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.logger = logger
	return nil
}
