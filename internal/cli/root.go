// Package cli implements the pluginmeta command line.
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/carved4/go-pluginmeta/pkg/config"
	"github.com/carved4/go-pluginmeta/pkg/logging"
	"github.com/carved4/go-pluginmeta/pkg/report"
)

// app carries state resolved once by the root command's pre-run.
type app struct {
	v          *viper.Viper
	configFile string

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "pluginmeta",
		Short: "Read plugin metadata from PE modules without loading them",
		Long: `pluginmeta reads the PLUGIN_DATA record a plugin module exports and
prints its name, author, description and version. Modules are parsed from
disk only. Nothing is mapped for execution, so untrusted files are safe to
inspect.

Settings come from flags, PLUGINMETA_* environment variables and an optional
pluginmeta.yaml in the working directory or ~/.config/pluginmeta.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: search for pluginmeta.yaml)")
	flags.String("log-level", "warn", "log level (trace, debug, info, warn, error, off)")
	flags.StringP("output", "o", "table", "output format (table, json, yaml)")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("symbol", "", "export name of the metadata record")
	a.bind("log.level", flags.Lookup("log-level"))
	a.bind("output.format", flags.Lookup("output"))
	a.bind("output.no_color", flags.Lookup("no-color"))
	a.bind("load.symbol_name", flags.Lookup("symbol"))

	rootCmd.AddCommand(newInspectCmd(a))
	rootCmd.AddCommand(newScanCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (a *app) bind(key string, flag *pflag.Flag) {
	// Only registered flags are passed, so BindPFlag cannot fail.
	_ = a.v.BindPFlag(key, flag)
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewWithComponent(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		NoColor: cfg.Output.NoColor,
		Output:  cmd.ErrOrStderr(),
	}, "cli")
	a.logger.Debug().Str("config", a.v.ConfigFileUsed()).Msg("configuration loaded")
	return nil
}

func (a *app) writer(cmd *cobra.Command) *report.Writer {
	// Validate already restricted the format to a known name.
	format, _ := report.ParseFormat(a.cfg.Output.Format)
	return report.NewWriter(cmd.OutOrStdout(), format, a.cfg.Output.NoColor)
}

// Execute runs the root command, cancelling in-flight work on interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}
