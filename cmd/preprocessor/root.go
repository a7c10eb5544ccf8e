package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "preprocessor",
		Short:         "Build persona datasets from social media exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "json", "log format (json or text)")
	bindFlags(root, map[string]string{
		"log_level":  "log-level",
		"log_format": "log-format",
	}, true)

	root.AddCommand(newRunCmd())
	return root
}

// bindFlags binds viper keys to the named flags of cmd
func bindFlags(cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
