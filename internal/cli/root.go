package cli

import (
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envieii",
		Short: "envieii answers WhatsApp messages with OpenAI",
		Long: "envieii pairs WhatsApp accounts through a signaling server, queues every inbound\n" +
			"message per user and replies with text generated by an OpenAI model.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(".env", paths.DotEnv); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.envieii/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMessageCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads the config file and builds the process logger from its
// logging section. The --log-level flag wins over the file.
func loadConfig() (config.Config, io.Closer, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	file := cfg.Logging.File
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(paths.Logs, file)
	}
	l, closer, err := logging.Open(logging.Options{
		Level:        cfg.Logging.Level,
		File:         file,
		ConsoleStyle: cfg.Logging.ConsoleStyle,
	})
	if err != nil {
		return cfg, nil, err
	}
	log = l

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		closer.Close()
		return cfg, nil, &config.ConfigError{Message: "config validation failed"}
	}
	return cfg, closer, nil
}
