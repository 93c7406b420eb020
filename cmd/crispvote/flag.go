package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"crisp-voting-client/config"
)

var (
	flagConfig     string
	flagServerURL  string
	flagRPCURL     string
	flagLogLevel   FlagLogLevel
	flagLogFormat  FlagLogFormat
	flagJSONPretty bool
)

// FlagLogLevel overrides the configured log level when set.
type FlagLogLevel struct {
	lvl zerolog.Level
	set bool
}

func (f FlagLogLevel) String() string {
	if !f.set {
		return ""
	}
	return f.lvl.String()
}

func (f *FlagLogLevel) Set(v string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		return err
	}

	f.lvl = lvl
	f.set = true

	return nil
}

func (FlagLogLevel) Type() string {
	return "log-level"
}

type FlagLogFormat struct {
	f string
}

func (f FlagLogFormat) String() string {
	return f.f
}

func (f *FlagLogFormat) Set(v string) error {
	s := strings.ToLower(v)
	switch s {
	case "json":
	case "terminal":
	default:
		return errors.Errorf("invalid log format: %q", v)
	}

	f.f = s

	return nil
}

func (FlagLogFormat) Type() string {
	return "log-format"
}

// loadConfig reads --config, falls back to the defaults, and applies the
// flags that were given on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if flagConfig != "" {
		loaded, err := config.LoadConfigFromFile(flagConfig)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("server-url") {
		c.ServerURL = flagServerURL
	}
	if flags.Changed("rpc-url") {
		c.RPCURL = flagRPCURL
	}
	if flagLogLevel.set {
		c.Log.Level = flagLogLevel.lvl.String()
	}
	if flagLogFormat.f != "" {
		c.Log.Format = flagLogFormat.f
	}

	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return c, nil
}

func printError(cmd *cobra.Command, err error) {
	fmt.Fprintf(os.Stderr, "error: %s\n\n", err.Error())
	if errors.Is(err, pflag.ErrHelp) {
		_ = cmd.Help()
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if flagJSONPretty {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(v)
}

// printYAML renders v through its JSON form so custom JSON encodings of
// quantities and addresses carry over.
func printYAML(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return errors.WithStack(err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close() // nolint

	return enc.Encode(&node)
}
