package podtags

import (
	"context"
	"sync/atomic"
	"time"

	v1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"

	"github.com/nxsre/nvml-collector/pkg/types"
)

type State int32

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Poller periodically rebuilds the tag mapping of a Cache from the kubelet
type Poller struct {
	lister       Lister
	cache        *Cache
	resourceName v1.ResourceName
	interval     time.Duration
	clock        clock.Clock
	log          types.Logger
	state        atomic.Int32
	refreshes    atomic.Int64
}

type PollerOption func(*Poller)

func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = interval
	}
}

func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

func WithResourceName(name v1.ResourceName) PollerOption {
	return func(p *Poller) {
		p.resourceName = name
	}
}

func NewPoller(lister Lister, cache *Cache, log types.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		lister:       lister,
		cache:        cache,
		resourceName: types.GPUResourceName,
		interval:     types.TagRefreshInterval,
		clock:        clock.RealClock{},
		log:          log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

// Refreshes counts the mappings published so far
func (p *Poller) Refreshes() int64 {
	return p.refreshes.Load()
}

// Refresh lists the pod resources once and publishes the resulting mapping, even an empty one.
// On error the cache keeps its previous mapping
func (p *Poller) Refresh(ctx context.Context) error {
	resp, err := p.lister.List(ctx)
	if err != nil {
		return err
	}
	p.cache.Replace(BuildMapping(resp, p.resourceName))
	p.refreshes.Add(1)
	return nil
}

// Run refreshes the cache every interval until a refresh fails or ctx is done. It never restarts itself
func (p *Poller) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return nil
	}
	defer func() {
		p.state.Store(int32(Stopped))
		p.log.Warningf("Pod tag poller finished. No longer refreshing GPU pod tags")
	}()
	for {
		if err := p.Refresh(ctx); err != nil {
			p.log.Errorf("Refreshing GPU pod tags failed: %v", err)
			return err
		}
		select {
		case <-p.clock.After(p.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
