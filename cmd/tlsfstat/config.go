package main

import (
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective allocator config",
		Long: `The config command prints the allocator config with every memory class's
heap sizing filled in, starting from --config if one is provided.

Example:
  tlsfstat config
  tlsfstat config --config allocator.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}

			options, err := config.CreateOptions()
			if err != nil {
				return err
			}

			effective := &gpuheap.Config{
				ExternallySynchronized: config.ExternallySynchronized,
				Heaps:                  make(map[string]gpuheap.HeapSizingConfig),
			}
			for class := 0; class < gpuheap.MemoryClassCount; class++ {
				memoryClass := gpuheap.MemoryClass(class)
				sizing := options.HeapSizing[class].WithDefaults(memoryClass)

				effective.Heaps[memoryClass.String()] = gpuheap.HeapSizingConfig{
					Fraction: sizing.Fraction,
					MaxSize:  sizing.MaxSize,
					Disabled: sizing.Disabled,
				}
			}

			data, err := effective.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
