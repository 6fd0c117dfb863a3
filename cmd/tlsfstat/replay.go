package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
	"github.com/vkngwrapper/tlsfheap/gpuheap/hostmem"
	"github.com/vkngwrapper/tlsfheap/memutils"
)

type replayOptions struct {
	detailed bool
	metrics  bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay an allocation trace and print heap statistics",
		Long: `The replay command activates every device named by the trace, performs its
allocations and frees in order, and prints the allocator's statistics as JSON.
Allocations that fail for lack of memory are counted rather than aborting the replay.

Example:
  tlsfstat replay trace.yaml
  tlsfstat replay trace.yaml --config allocator.yaml --detailed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTrace(args[0])
			if err != nil {
				return err
			}
			config, err := root.loadConfig()
			if err != nil {
				return err
			}

			return runReplay(cmd, root, opts, config, t)
		},
	}

	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "Include every segment of every heap")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print heap gauges after the statistics")
	return cmd
}

type replayResult struct {
	allocs   int
	frees    int
	failures int
}

func runReplay(cmd *cobra.Command, root *rootOptions, opts *replayOptions, config *gpuheap.Config, t *trace) (err error) {
	options, err := config.CreateOptions()
	if err != nil {
		return err
	}

	devices := make(map[gpuheap.DeviceID]hostmem.Device, len(t.Devices))
	for _, device := range t.Devices {
		devices[gpuheap.DeviceID(device)] = hostmem.UniformDevice(t.DeviceSize)
	}
	memory := hostmem.New(devices)

	allocator, err := gpuheap.New(root.logger(cmd), memory, memory, options)
	if err != nil {
		return err
	}

	for _, device := range t.Devices {
		err = allocator.ActivateDevice(gpuheap.DeviceID(device))
		if err != nil {
			return errors.CombineErrors(err, allocator.Destroy())
		}
	}

	live := make(map[string]gpuheap.Handle)
	defer func() {
		// Anything the trace leaves allocated is released so that teardown can verify the heaps
		ids := make([]string, 0, len(live))
		for id := range live {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			err = errors.CombineErrors(err, allocator.Free(live[id]))
		}
		err = errors.CombineErrors(err, allocator.Destroy())
	}()

	result, err := replayOps(allocator, t.Ops, live)
	if err != nil {
		return err
	}

	err = allocator.Validate()
	if err != nil {
		return errors.Wrap(err, "heaps are inconsistent after replay")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, allocator.BuildStatsString(opts.detailed))
	fmt.Fprintf(cmd.ErrOrStderr(), "%d allocs, %d frees, %d failed allocs, %d left live\n",
		result.allocs, result.frees, result.failures, len(live))

	if opts.metrics {
		return printMetrics(out, allocator)
	}
	return nil
}

func replayOps(allocator *gpuheap.Allocator, ops []traceOp, live map[string]gpuheap.Handle) (replayResult, error) {
	var result replayResult

	for index, op := range ops {
		if op.Alloc != nil {
			if _, ok := live[op.Alloc.ID]; ok {
				return result, errors.Newf("trace op %d reuses live id %q", index, op.Alloc.ID)
			}

			class, ok := gpuheap.ParseMemoryClass(op.Alloc.Class)
			if !ok {
				return result, errors.Newf("trace op %d has unknown memory class %q", index, op.Alloc.Class)
			}

			name := op.Alloc.Name
			if name == "" {
				name = op.Alloc.ID
			}

			alloc, err := allocator.Alloc(gpuheap.AllocParams{
				Device:    gpuheap.DeviceID(op.Alloc.Device),
				Class:     class,
				Size:      op.Alloc.Size,
				Alignment: op.Alloc.Alignment,
				Name:      name,
			})
			if errors.Is(err, memutils.ErrOutOfMemory) {
				result.failures++
				continue
			} else if err != nil {
				return result, errors.Wrapf(err, "trace op %d", index)
			}

			live[op.Alloc.ID] = alloc.Handle
			result.allocs++
			continue
		}

		handle, ok := live[op.Free]
		if !ok {
			return result, errors.Newf("trace op %d frees unknown id %q", index, op.Free)
		}
		err := allocator.Free(handle)
		if err != nil {
			return result, errors.Wrapf(err, "trace op %d", index)
		}
		delete(live, op.Free)
		result.frees++
	}

	return result, nil
}

func printMetrics(out io.Writer, allocator *gpuheap.Allocator) error {
	registry := prometheus.NewRegistry()
	err := registry.Register(gpuheap.NewCollector(allocator))
	if err != nil {
		return err
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			fmt.Fprint(out, family.GetName(), "{")
			for index, label := range metric.GetLabel() {
				if index > 0 {
					fmt.Fprint(out, ",")
				}
				fmt.Fprintf(out, "%s=%q", label.GetName(), label.GetValue())
			}
			fmt.Fprintf(out, "} %g\n", metric.GetGauge().GetValue())
		}
	}

	return nil
}
