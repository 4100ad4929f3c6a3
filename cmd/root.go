package cmd

import (
	"os"

	"github.com/creativeprojects/mailstore/cfg"
	"github.com/creativeprojects/mailstore/term"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "mailstore",
	Short:         "Mailbox storage tools: create, append, search, flag, expunge",
	Long:          "\nMailbox storage tools: create, append, search, flag, expunge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig, initLog)
	flag := rootCmd.PersistentFlags()
	flag.StringVarP(&global.configFile, "config", "c", "mailstore.yaml", "configuration file")
	flag.BoolVarP(&global.quiet, "quiet", "q", false, "only display warnings and errors")
	flag.BoolVarP(&global.verbose, "verbose", "v", false, "display debugging information")
	flag.BoolVar(&global.metrics, "metrics", false, "display the store metrics after the command")
}

func initConfig() {
	var err error
	config, err = cfg.LoadFromFile(global.configFile)
	if err != nil {
		term.Errorf("cannot open or read configuration file: %s", err)
		os.Exit(1)
	}
	if global.metrics {
		config.Metrics.Enabled = true
	}
}

func initLog() {
	logger.SetOutput(os.Stderr)
	if config != nil && config.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level := logrus.InfoLevel
	if config != nil {
		if parsed, err := logrus.ParseLevel(config.Log.Level); err == nil {
			level = parsed
		} else {
			term.Warnf("invalid log level %q", config.Log.Level)
		}
	}
	switch {
	case global.verbose:
		term.SetLevel(term.LevelDebug)
		level = logrus.DebugLevel
	case global.quiet:
		term.SetLevel(term.LevelWarn)
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		term.Error(err)
		os.Exit(1)
	}
}
