package gpuheap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

func TestParseConfig(t *testing.T) {
	config, err := gpuheap.ParseConfig([]byte(`
externallySynchronized: true
heaps:
  gpu_only:
    fraction: 0.5
    maxSize: 268435456
  readback:
    disabled: true
`))
	require.NoError(t, err)
	require.True(t, config.ExternallySynchronized)

	options, err := config.CreateOptions()
	require.NoError(t, err)
	require.Equal(t, gpuheap.AllocatorCreateExternallySynchronized, options.Flags)
	require.Equal(t, gpuheap.HeapSizing{Fraction: 0.5, MaxSize: 256 * mb}, options.HeapSizing[gpuheap.MemoryClassGPUOnly])
	require.Equal(t, gpuheap.HeapSizing{}, options.HeapSizing[gpuheap.MemoryClassGPUMapped])
	require.Equal(t, gpuheap.HeapSizing{Disabled: true}, options.HeapSizing[gpuheap.MemoryClassReadback])
}

func TestParseConfig_UnknownField(t *testing.T) {
	_, err := gpuheap.ParseConfig([]byte(`
heaps:
  upload:
    fractoin: 0.5
`))
	require.Error(t, err)
}

func TestParseConfig_UnknownClass(t *testing.T) {
	config, err := gpuheap.ParseConfig([]byte(`
heaps:
  vram:
    fraction: 0.5
`))
	require.NoError(t, err)

	_, err = config.CreateOptions()
	require.ErrorContains(t, err, "vram")
}

func TestConfig_RoundTrip(t *testing.T) {
	config := &gpuheap.Config{
		Heaps: map[string]gpuheap.HeapSizingConfig{
			"upload": {Fraction: 0.25, MaxSize: 64 * mb},
		},
	}

	data, err := config.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "allocator.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := gpuheap.LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, config, loaded)

	_, err = gpuheap.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHeapSizing_HeapSize(t *testing.T) {
	sizing := gpuheap.DefaultHeapSizing(gpuheap.MemoryClassGPUOnly)
	require.Equal(t, uint64(512*mb), sizing.HeapSize(4096*mb))
	require.Equal(t, uint64(32*mb), sizing.HeapSize(40*mb))

	sizing = gpuheap.DefaultHeapSizing(gpuheap.MemoryClassGPUMapped)
	require.Equal(t, uint64(32*mb), sizing.HeapSize(256*mb))
	require.Equal(t, uint64(16*mb), sizing.HeapSize(20*mb))

	sizing = gpuheap.HeapSizing{Fraction: 1, MaxSize: 1 << 40}
	require.Equal(t, uint64(1<<36-1), sizing.HeapSize(1<<40))
}
