// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/log"
	"reactor/pkg/build"
)

// options collects every flag; subcommands read the fields they own.
type options struct {
	configPath   string
	settingsPath string
	logLevel     string
	verbose      bool

	// run
	file       string
	device     int
	capture    bool
	sampleRate float64
	pick       bool
	silent     bool
	tui        bool
	record     string
	wsAddr     string
	udpTarget  string

	// profile
	force bool
}

// NewRootCommand builds the command tree. out receives command output.
func NewRootCommand(out io.Writer) *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{device: config.DefaultDeviceID}

	rootCmd := &cobra.Command{
		Use:           buildInfo.NameOr("reactor"),
		Short:         "Audio-reactive effect engine",
		Long:          "Turns live or recorded audio into energy, beats and bounded effect frames for external renderers.",
		Version:       buildInfo.Summary(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if opts.verbose {
				level = "debug"
			}
			if level != "" {
				l, ok := log.ParseLevel(level)
				if !ok {
					return fmt.Errorf("unknown log level %q", level)
				}
				log.SetLevel(l)
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Global Configuration
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"YAML application config (default: reactor.yaml or config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "",
		"JSON tuning file, overrides analysis.settings_file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newListCommand(),
		newTempoCommand(),
		newProfileCommand(opts),
		newConfigCommand(opts),
	)
	return rootCmd
}

// Execute runs the CLI with args.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	rootCmd := NewRootCommand(out)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
}

// loadConfig resolves the application config and the tuning settings.
func loadConfig(opts *options) (*config.App, *config.Live, error) {
	app, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel == "" && !opts.verbose {
		level := app.LogLevel
		if app.Debug {
			level = "debug"
		}
		if l, ok := log.ParseLevel(level); ok {
			log.SetLevel(l)
		}
	}
	if opts.settingsPath != "" {
		app.Analysis.SettingsFile = opts.settingsPath
	}

	settings := config.Defaults()
	if app.Analysis.SettingsFile != "" {
		settings, err = config.LoadSettings(app.Analysis.SettingsFile)
		if err != nil {
			return nil, nil, err
		}
	}
	return app, config.NewLive(settings), nil
}
