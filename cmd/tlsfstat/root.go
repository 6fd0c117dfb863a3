package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tlsfstat",
		Short: "Replay allocation traces against TLSF heaps",
		Long: `tlsfstat drives the gpuheap allocator with host memory standing in for device
memory. Heaps are sized from an optional allocator config exactly as they would be on a
device with the same memory heap sizes.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Allocator config (YAML or JSON)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log heap activity to stderr")

	cmd.AddCommand(newReplayCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) loadConfig() (*gpuheap.Config, error) {
	if o.configPath == "" {
		return &gpuheap.Config{}, nil
	}
	return gpuheap.LoadConfigFile(o.configPath)
}
