// Package collector samples NVML metrics for every GPU and tags them with the pod holding the GPU.
package collector

import (
	"context"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nxsre/nvml-collector/pkg/gpu"
	"github.com/nxsre/nvml-collector/pkg/podtags"
	"github.com/nxsre/nvml-collector/pkg/types"
	"github.com/nxsre/nvml-collector/pkg/utils"
)

// Sink receives the samples. Both calls are fire and forget
type Sink interface {
	Gauge(name string, value float64, tags []string)
	MonotonicCount(name string, value float64, tags []string)
}

// Options tune a Collector, the zero value talks to the kubelet at types.PodResourcesSocket
type Options struct {
	// Context bounds the background tag poller, it is never cancelled by the collector itself
	Context        context.Context
	Socket         string
	KubeletTimeout time.Duration
	// Lister replaces the kubelet gRPC client
	Lister        podtags.Lister
	PollerOptions []podtags.PollerOption
	// Tags are added to every sample
	Tags []string
	Log  types.Logger
}

// Collector owns everything shared between the checks and the tag poller. Build one per process
type Collector struct {
	lib        gpu.Library
	sink       Sink
	log        types.Logger
	guard      *ProbeGuard
	tags       *podtags.Cache
	poller     *podtags.Poller
	socket     string
	pollerCtx  context.Context
	started    atomic.Bool
	staticTags atomic.Pointer[[]string]
}

func New(lib gpu.Library, sink Sink, opts Options) *Collector {
	if opts.Log == nil {
		opts.Log = types.GlogLogger{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Socket == "" {
		opts.Socket = types.PodResourcesSocket
	}
	if opts.KubeletTimeout <= 0 {
		opts.KubeletTimeout = 10 * time.Second
	}
	if opts.Lister == nil {
		opts.Lister = podtags.NewKubeletLister(opts.Socket, opts.KubeletTimeout)
	}
	cache := podtags.NewCache()
	c := &Collector{
		lib:       lib,
		sink:      sink,
		log:       opts.Log,
		guard:     NewProbeGuard(opts.Log),
		tags:      cache,
		poller:    podtags.NewPoller(opts.Lister, cache, opts.Log, opts.PollerOptions...),
		socket:    opts.Socket,
		pollerCtx: opts.Context,
	}
	c.SetTags(opts.Tags)
	return c
}

func (c *Collector) Cache() *podtags.Cache {
	return c.tags
}

func (c *Collector) Poller() *podtags.Poller {
	return c.poller
}

func (c *Collector) Guard() *ProbeGuard {
	return c.guard
}

// SetTags replaces the tags added to every sample, it takes effect on the next check
func (c *Collector) SetTags(tags []string) {
	tags = slices.Clone(tags)
	c.staticTags.Store(&tags)
}

// Tags returns the tags currently added to every sample
func (c *Collector) Tags() []string {
	return slices.Clone(c.extraTags())
}

func (c *Collector) extraTags() []string {
	return *c.staticTags.Load()
}

// startDiscovery starts the pod tag poller once. Without a kubelet socket it never starts
func (c *Collector) startDiscovery() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	exists, isSocket := utils.SocketExists(c.socket)
	if !exists {
		c.log.Infof("No kubelet socket at %s. Not monitoring k8s pod tags", c.socket)
		return
	}
	if !isSocket {
		c.log.Warningf("%s is not a unix socket. Not monitoring k8s pod tags", c.socket)
		return
	}
	c.log.Infof("Monitoring kubelet tags at %s", c.socket)
	go c.poller.Run(c.pollerCtx)
}

// Check runs one sampling pass over all GPUs. NVML is initialized for the duration of the pass only.
// Errors that are not NVML query errors abort the pass and are returned
func (c *Collector) Check(ctx context.Context) error {
	c.startDiscovery()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.lib.Init(); err != nil {
		return errors.Wrap(err, "NVML initialization failed")
	}
	defer func() {
		if err := c.lib.Shutdown(); err != nil {
			c.log.Warningf("NVML shutdown failed: %v", err)
		}
	}()
	return c.gather(ctx)
}

func metricName(name string) string {
	return types.MetricNamespace + "." + name
}

func (c *Collector) gather(ctx context.Context) error {
	extra := c.extraTags()
	// a failure while enumerating ends the pass, the same probe kind covers the whole device loop
	return c.guard.Do("device_count", func() error {
		count, err := c.lib.DeviceCount()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("device_count"), float64(count), slices.Clone(extra))
		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			dev, err := c.lib.DeviceByIndex(i)
			if err != nil {
				return err
			}
			uuid, err := dev.UUID()
			if err != nil {
				return err
			}
			tags := []string{types.GPUTagPrefix + strconv.Itoa(i)}
			tags = append(tags, c.tags.Lookup(uuid)...)
			tags = append(tags, extra...)
			if err := c.gatherDevice(dev, tags); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Collector) gatherDevice(dev gpu.Device, tags []string) error {
	if err := c.guard.Do("util_rate", func() error {
		util, err := dev.UtilizationRates()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("gpu_utilization"), float64(util.GPU), tags)
		c.sink.Gauge(metricName("mem_copy_utilization"), float64(util.Memory), tags)
		return nil
	}); err != nil {
		return err
	}

	if err := c.guard.Do("mem_info", func() error {
		mem, err := dev.MemoryInfo()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("fb_free"), float64(mem.Free), tags)
		c.sink.Gauge(metricName("fb_used"), float64(mem.Used), tags)
		c.sink.Gauge(metricName("fb_total"), float64(mem.Total), tags)
		return nil
	}); err != nil {
		return err
	}

	if err := c.guard.Do("power", func() error {
		power, err := dev.PowerUsage()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("power_usage"), float64(power), tags)
		return nil
	}); err != nil {
		return err
	}

	if err := c.guard.Do("total_energy_consumption", func() error {
		energy, err := dev.TotalEnergyConsumption()
		if err != nil {
			return err
		}
		c.sink.MonotonicCount(metricName("total_energy_consumption"), float64(energy), tags)
		return nil
	}); err != nil {
		return err
	}

	if err := c.guard.Do("enc_utilization", func() error {
		util, err := dev.EncoderUtilization()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("enc_utilization"), float64(util), tags)
		return nil
	}); err != nil {
		return err
	}

	if err := c.guard.Do("dec_utilization", func() error {
		util, err := dev.DecoderUtilization()
		if err != nil {
			return err
		}
		c.sink.Gauge(metricName("dec_utilization"), float64(util), tags)
		return nil
	}); err != nil {
		return err
	}

	return c.guard.Do("pci_through", func() error {
		tx, err := dev.PcieThroughput(gpu.PcieTxBytes)
		if err != nil {
			return err
		}
		rx, err := dev.PcieThroughput(gpu.PcieRxBytes)
		if err != nil {
			return err
		}
		c.sink.MonotonicCount(metricName("pcie_tx_throughput"), float64(tx), tags)
		c.sink.MonotonicCount(metricName("pcie_rx_throughput"), float64(rx), tags)
		return nil
	})
}
