package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatrooms/pkg/config"
)

type rootState struct {
	settings *config.Settings
}

func newRootCommand() *cobra.Command {
	st := &rootState{}

	root := &cobra.Command{
		Use:          "chatrooms",
		Short:        "chatrooms runs numbered LLM chat rooms behind an HTTP API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLoggerFromViper(); err != nil {
				return err
			}
			s, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			st.settings = s
			return nil
		},
	}

	// clay owns --config, the logging flags and config file discovery (~/.chatrooms/config.yaml).
	cobra.CheckErr(clay.InitViper(config.EnvPrefix, root))
	// Registered after clay so the nested keys get dots mapped to underscores too.
	config.Register(viper.GetViper())

	root.AddCommand(
		newServeCommand(st),
		newChatCommand(),
		newRoomsCommand(),
		newExportCommand(st),
	)
	return root
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
