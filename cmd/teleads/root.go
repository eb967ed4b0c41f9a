package main

import (
	"github.com/spf13/cobra"

	"teleads/internal/config"
	logx "teleads/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOpts struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "teleads",
		Short:         "Forward one message to many Telegram groups from several accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(opts.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "config file (yaml, toml or json)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newRunCmd(opts),
		newLoginCmd(opts),
		newTargetsCmd(opts),
		newAuditCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOpts) load() (*config.Config, error) {
	return config.NewManager(o.configPath, consoleLog()).Load()
}

// consoleLog is for one-shot commands; only problems are printed.
func consoleLog() logx.Logger {
	return logx.NewConsole("WARN")
}
