package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"
)

// trace is a recorded sequence of allocator calls
//
//	deviceSize: 268435456
//	devices: [0]
//	ops:
//	  - alloc: {id: staging, device: 0, class: upload, size: 65536, alignment: 256}
//	  - free: staging
type trace struct {
	// DeviceSize is the simulated size of every memory heap of every device
	DeviceSize uint64    `json:"deviceSize,omitempty"`
	Devices    []uint32  `json:"devices"`
	Ops        []traceOp `json:"ops"`
}

type traceOp struct {
	Alloc *traceAlloc `json:"alloc,omitempty"`
	// Free is the id of an earlier alloc
	Free string `json:"free,omitempty"`
}

type traceAlloc struct {
	ID        string `json:"id"`
	Device    uint32 `json:"device"`
	Class     string `json:"class"`
	Size      uint64 `json:"size"`
	Alignment uint64 `json:"alignment,omitempty"`
	Name      string `json:"name,omitempty"`
}

const defaultDeviceSize uint64 = 256 * 1024 * 1024

func parseTrace(data []byte) (*trace, error) {
	t := &trace{}
	err := yaml.UnmarshalStrict(data, t)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse trace")
	}

	if t.DeviceSize == 0 {
		t.DeviceSize = defaultDeviceSize
	}
	if len(t.Devices) == 0 {
		t.Devices = []uint32{0}
	}

	for index, op := range t.Ops {
		if (op.Alloc == nil) == (op.Free == "") {
			return nil, errors.Newf("trace op %d must be exactly one of alloc or free", index)
		}
		if op.Alloc != nil && op.Alloc.ID == "" {
			return nil, errors.Newf("trace op %d allocates without an id", index)
		}
	}

	return t, nil
}

func loadTrace(path string) (*trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read trace %s", path)
	}
	return parseTrace(data)
}
