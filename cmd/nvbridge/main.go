// Package main is the entry point for nvbridge, a terminal host that drives
// an embedded Neovim.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("nvbridge failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var opts runOptions
	root := &cobra.Command{
		Use:           "nvbridge [files...]",
		Short:         "Edit files in an embedded Neovim",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, opts, args)
		},
	}

	flags := root.Flags()
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (.toml, .yaml)")
	flags.String("nvim", "", "engine executable to spawn")
	flags.String("socket", "", "attach to an engine listening on this socket")
	flags.Bool("clean", false, "start the engine with --clean")
	flags.Int("width", 0, "grid width in cells")
	flags.Int("height", 0, "grid height in cells")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-file", "", "write logs to this file")

	root.AddCommand(newConfigCmd(&opts))
	root.AddCommand(newVersionCmd())
	return root
}
