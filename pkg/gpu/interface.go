// Package gpu is the narrow view of NVML the collector needs.
package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"
)

// Library is the process wide NVML handle
type Library interface {
	Init() error
	Shutdown() error
	DeviceCount() (int, error)
	DeviceByIndex(index int) (Device, error)
}

// Device is one GPU. Every query may fail with an *Error when the model or driver does not support it
type Device interface {
	UUID() (string, error)
	UtilizationRates() (Utilization, error)
	MemoryInfo() (MemoryInfo, error)
	// PowerUsage is in milliwatts
	PowerUsage() (uint32, error)
	// TotalEnergyConsumption is in millijoules since the driver was last reloaded
	TotalEnergyConsumption() (uint64, error)
	EncoderUtilization() (uint32, error)
	DecoderUtilization() (uint32, error)
	PcieThroughput(counter PcieCounter) (uint32, error)
}

// Utilization holds percentages over the last sample period
type Utilization struct {
	GPU    uint32
	Memory uint32
}

// MemoryInfo is the framebuffer state in bytes
type MemoryInfo struct {
	Free  uint64
	Used  uint64
	Total uint64
}

type PcieCounter int

const (
	PcieTxBytes PcieCounter = iota
	PcieRxBytes
)

func (c PcieCounter) String() string {
	switch c {
	case PcieTxBytes:
		return "tx"
	case PcieRxBytes:
		return "rx"
	}
	return fmt.Sprintf("PcieCounter(%d)", int(c))
}

// Error is a failed NVML query
type Error struct {
	Op   string
	Code nvml.Return
}

var returnNames = map[nvml.Return]string{
	nvml.ERROR_UNINITIALIZED:      "Uninitialized",
	nvml.ERROR_INVALID_ARGUMENT:   "Invalid Argument",
	nvml.ERROR_NOT_SUPPORTED:      "Not Supported",
	nvml.ERROR_NO_PERMISSION:      "Insufficient Permissions",
	nvml.ERROR_NOT_FOUND:          "Not Found",
	nvml.ERROR_DRIVER_NOT_LOADED:  "Driver Not Loaded",
	nvml.ERROR_GPU_IS_LOST:        "GPU is lost",
	nvml.ERROR_LIBRARY_NOT_FOUND:  "NVML Shared Library Not Found",
	nvml.ERROR_FUNCTION_NOT_FOUND: "Function Not Found",
	nvml.ERROR_UNKNOWN:            "Unknown Error",
}

// Error does not call nvmlErrorString so it stays usable once the library is shut down
func (e *Error) Error() string {
	if name, ok := returnNames[e.Code]; ok {
		return fmt.Sprintf("%s: %s", e.Op, name)
	}
	return fmt.Sprintf("%s: NVML return code %d", e.Op, int32(e.Code))
}

// IsDeviceQueryError reports whether err, or anything it wraps, came back from an NVML query
func IsDeviceQueryError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func check(op string, ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &Error{Op: op, Code: ret}
}
