package gpuheap

import (
	"os"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"
)

// Config is the serialized form of CreateOptions
//
//	externallySynchronized: false
//	heaps:
//	  gpu_only:
//	    fraction: 0.5
//	    maxSize: 268435456
//	  readback:
//	    disabled: true
type Config struct {
	ExternallySynchronized bool                        `json:"externallySynchronized,omitempty"`
	Heaps                  map[string]HeapSizingConfig `json:"heaps,omitempty"`
}

// HeapSizingConfig is the serialized form of HeapSizing
type HeapSizingConfig struct {
	Fraction float64 `json:"fraction,omitempty"`
	MaxSize  uint64  `json:"maxSize,omitempty"`
	Disabled bool    `json:"disabled,omitempty"`
}

// ParseConfig reads a Config from YAML or JSON
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.UnmarshalStrict(data, config)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse allocator config")
	}
	return config, nil
}

// LoadConfigFile reads a Config from a YAML or JSON file
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read allocator config %s", path)
	}
	return ParseConfig(data)
}

// CreateOptions converts the config into options for New
func (c *Config) CreateOptions() (CreateOptions, error) {
	var options CreateOptions
	if c.ExternallySynchronized {
		options.Flags |= AllocatorCreateExternallySynchronized
	}

	for name, sizing := range c.Heaps {
		class, ok := ParseMemoryClass(name)
		if !ok {
			return options, errors.Newf("unknown memory class %q in allocator config", name)
		}
		options.HeapSizing[class] = HeapSizing{
			Fraction: sizing.Fraction,
			MaxSize:  sizing.MaxSize,
			Disabled: sizing.Disabled,
		}
	}

	return options, nil
}

// Marshal writes the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
