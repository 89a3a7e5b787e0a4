package collector

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/nxsre/nvml-collector/pkg/gpu"
)

func errNotSupported(op string) error {
	return &gpu.Error{Op: op, Code: nvml.ERROR_NOT_SUPPORTED}
}

type fakeDevice struct {
	uuid string
	// errs overrides a query by its probe kind
	errs  map[string]error
	panic string
}

func (d *fakeDevice) fail(kind string) error {
	if d.panic == kind {
		panic("fake device: " + kind)
	}
	return d.errs[kind]
}

func (d *fakeDevice) UUID() (string, error) {
	return d.uuid, d.fail("uuid")
}

func (d *fakeDevice) UtilizationRates() (gpu.Utilization, error) {
	return gpu.Utilization{GPU: 42, Memory: 17}, d.fail("util_rate")
}

func (d *fakeDevice) MemoryInfo() (gpu.MemoryInfo, error) {
	return gpu.MemoryInfo{Free: 6 << 30, Used: 10 << 30, Total: 16 << 30}, d.fail("mem_info")
}

func (d *fakeDevice) PowerUsage() (uint32, error) {
	return 71000, d.fail("power")
}

func (d *fakeDevice) TotalEnergyConsumption() (uint64, error) {
	return 123456789, d.fail("total_energy_consumption")
}

func (d *fakeDevice) EncoderUtilization() (uint32, error) {
	return 3, d.fail("enc_utilization")
}

func (d *fakeDevice) DecoderUtilization() (uint32, error) {
	return 4, d.fail("dec_utilization")
}

func (d *fakeDevice) PcieThroughput(counter gpu.PcieCounter) (uint32, error) {
	if counter == gpu.PcieTxBytes {
		return 1000, d.fail("pci_through")
	}
	return 2000, d.fail("pci_through")
}

type fakeLibrary struct {
	devices  []*fakeDevice
	initErr  error
	countErr error
	inits    atomic.Int32
	shutdown atomic.Int32
}

func (l *fakeLibrary) Init() error {
	if l.initErr != nil {
		return l.initErr
	}
	l.inits.Add(1)
	return nil
}

func (l *fakeLibrary) Shutdown() error {
	l.shutdown.Add(1)
	return nil
}

func (l *fakeLibrary) DeviceCount() (int, error) {
	return len(l.devices), l.countErr
}

func (l *fakeLibrary) DeviceByIndex(index int) (gpu.Device, error) {
	return l.devices[index], nil
}

type sample struct {
	name      string
	value     float64
	tags      []string
	monotonic bool
}

type recordingSink struct {
	mu      sync.Mutex
	samples []sample
}

func (s *recordingSink) Gauge(name string, value float64, tags []string) {
	s.add(sample{name: name, value: value, tags: tags})
}

func (s *recordingSink) MonotonicCount(name string, value float64, tags []string) {
	s.add(sample{name: name, value: value, tags: tags, monotonic: true})
}

func (s *recordingSink) add(smp sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, smp)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
}

// find returns the samples of name whose first tag is gpuTag, every sample of name when gpuTag is empty
func (s *recordingSink) find(name, gpuTag string) []sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sample
	for _, smp := range s.samples {
		if smp.name != name {
			continue
		}
		if gpuTag != "" && (len(smp.tags) == 0 || smp.tags[0] != gpuTag) {
			continue
		}
		out = append(out, smp)
	}
	return out
}

// names lists the distinct metric names emitted for gpuTag
func (s *recordingSink) names(gpuTag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, smp := range s.samples {
		if len(smp.tags) > 0 && smp.tags[0] == gpuTag {
			seen[strings.TrimPrefix(smp.name, "nvml.")] = true
		}
	}
	var out []string
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
