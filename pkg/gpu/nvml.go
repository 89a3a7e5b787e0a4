package gpu

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type nvmlLibrary struct {
	lib nvml.Interface
}

// NewLibrary loads libnvidia-ml lazily on Init. An empty libraryPath uses the default loader search
func NewLibrary(libraryPath string) Library {
	var opts []nvml.LibraryOption
	if libraryPath != "" {
		opts = append(opts, nvml.WithLibraryPath(libraryPath))
	}
	return &nvmlLibrary{lib: nvml.New(opts...)}
}

func (l *nvmlLibrary) Init() error {
	return check("nvmlInit", l.lib.Init())
}

func (l *nvmlLibrary) Shutdown() error {
	return check("nvmlShutdown", l.lib.Shutdown())
}

func (l *nvmlLibrary) DeviceCount() (int, error) {
	count, ret := l.lib.DeviceGetCount()
	return count, check("nvmlDeviceGetCount", ret)
}

func (l *nvmlLibrary) DeviceByIndex(index int) (Device, error) {
	dev, ret := l.lib.DeviceGetHandleByIndex(index)
	if err := check("nvmlDeviceGetHandleByIndex", ret); err != nil {
		return nil, err
	}
	return &nvmlDevice{dev: dev}, nil
}

type nvmlDevice struct {
	dev nvml.Device
}

func (d *nvmlDevice) UUID() (string, error) {
	uuid, ret := d.dev.GetUUID()
	return uuid, check("nvmlDeviceGetUUID", ret)
}

func (d *nvmlDevice) UtilizationRates() (Utilization, error) {
	util, ret := d.dev.GetUtilizationRates()
	return Utilization{GPU: util.Gpu, Memory: util.Memory}, check("nvmlDeviceGetUtilizationRates", ret)
}

func (d *nvmlDevice) MemoryInfo() (MemoryInfo, error) {
	mem, ret := d.dev.GetMemoryInfo()
	return MemoryInfo{Free: mem.Free, Used: mem.Used, Total: mem.Total}, check("nvmlDeviceGetMemoryInfo", ret)
}

func (d *nvmlDevice) PowerUsage() (uint32, error) {
	power, ret := d.dev.GetPowerUsage()
	return power, check("nvmlDeviceGetPowerUsage", ret)
}

func (d *nvmlDevice) TotalEnergyConsumption() (uint64, error) {
	energy, ret := d.dev.GetTotalEnergyConsumption()
	return energy, check("nvmlDeviceGetTotalEnergyConsumption", ret)
}

// EncoderUtilization drops the sampling period NVML returns alongside the percentage
func (d *nvmlDevice) EncoderUtilization() (uint32, error) {
	util, _, ret := d.dev.GetEncoderUtilization()
	return util, check("nvmlDeviceGetEncoderUtilization", ret)
}

func (d *nvmlDevice) DecoderUtilization() (uint32, error) {
	util, _, ret := d.dev.GetDecoderUtilization()
	return util, check("nvmlDeviceGetDecoderUtilization", ret)
}

func (d *nvmlDevice) PcieThroughput(counter PcieCounter) (uint32, error) {
	c := nvml.PCIE_UTIL_TX_BYTES
	if counter == PcieRxBytes {
		c = nvml.PCIE_UTIL_RX_BYTES
	}
	bytes, ret := d.dev.GetPcieThroughput(c)
	return bytes, check("nvmlDeviceGetPcieThroughput", ret)
}
