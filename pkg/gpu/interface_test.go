package gpu

import (
	"fmt"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsDeviceQueryError(t *testing.T) {
	queryErr := &Error{Op: "nvmlDeviceGetPowerUsage", Code: nvml.ERROR_NOT_SUPPORTED}

	assert.True(t, IsDeviceQueryError(queryErr))
	assert.True(t, IsDeviceQueryError(errors.Wrap(queryErr, "power")))
	assert.True(t, IsDeviceQueryError(fmt.Errorf("device 0: %w", queryErr)))
	assert.False(t, IsDeviceQueryError(errors.New("index out of range")))
	assert.False(t, IsDeviceQueryError(nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "nvmlDeviceGetPowerUsage: Not Supported",
		(&Error{Op: "nvmlDeviceGetPowerUsage", Code: nvml.ERROR_NOT_SUPPORTED}).Error())
	assert.Equal(t, "nvmlInit: NVML return code 555",
		(&Error{Op: "nvmlInit", Code: nvml.Return(555)}).Error())
}

func TestCheck(t *testing.T) {
	assert.NoError(t, check("nvmlInit", nvml.SUCCESS))
	err := check("nvmlInit", nvml.ERROR_DRIVER_NOT_LOADED)
	assert.True(t, IsDeviceQueryError(err))
}

func TestPcieCounterString(t *testing.T) {
	assert.Equal(t, "tx", PcieTxBytes.String())
	assert.Equal(t, "rx", PcieRxBytes.String())
	assert.Equal(t, "PcieCounter(7)", PcieCounter(7).String())
}
