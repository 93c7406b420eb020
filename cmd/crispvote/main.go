package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crisp-voting-client/config"
	"crisp-voting-client/logging"
)

var (
	log    = logging.Module("crispvote")
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "crispvote",
	Short:         "cast private votes in CRISP governance rounds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		l, err := logging.Setup(os.Stderr, c.Log.Level, c.Log.Format)
		if err != nil {
			return err
		}

		cfg = c
		logger = l
		_ = log.SetLogger(l)

		log.Log().Debug().Object("config", c).Msg("config loaded")

		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "yaml config file")
	flags.StringVar(&flagServerURL, "server-url", "", "tally server url")
	flags.StringVar(&flagRPCURL, "rpc-url", "", "ethereum json-rpc url")
	flags.Var(&flagLogLevel, "log-level", "log level")
	flags.Var(&flagLogFormat, "log-format", "log format, {json terminal}")
	flags.BoolVar(&flagJSONPretty, "pretty", false, "pretty json output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd, err)
		os.Exit(1)
	}
}
