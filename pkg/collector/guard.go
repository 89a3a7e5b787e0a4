package collector

import (
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/nxsre/nvml-collector/pkg/gpu"
	"github.com/nxsre/nvml-collector/pkg/types"
)

// ProbeGuard isolates NVML probes from each other. A GPU or driver that does not support a query
// must not cost the other metrics, and the failure is reported once per probe kind instead of every pass
type ProbeGuard struct {
	log    types.Logger
	mu     sync.Mutex
	failed sets.Set[string]
}

func NewProbeGuard(log types.Logger) *ProbeGuard {
	return &ProbeGuard{log: log, failed: sets.New[string]()}
}

// Do runs probe. An NVML error is swallowed and logged the first time kind fails, any other error is returned as is
func (g *ProbeGuard) Do(kind string, probe func() error) error {
	err := probe()
	if err == nil {
		return nil
	}
	if !gpu.IsDeviceQueryError(err) {
		return err
	}

	g.mu.Lock()
	seen := g.failed.Has(kind)
	g.failed.Insert(kind)
	g.mu.Unlock()

	if !seen {
		g.log.Warningf("Unable to execute NVML function: %s: %v", kind, err)
	}
	return nil
}

// Failed lists the probe kinds that failed at least once
func (g *ProbeGuard) Failed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sets.List(g.failed)
}
