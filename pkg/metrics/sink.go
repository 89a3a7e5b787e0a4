// Package metrics exposes collector samples in the Prometheus format.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
	"k8s.io/utils/clock"
)

type series struct {
	name      string
	labels    map[string]string
	value     float64
	valueType prometheus.ValueType
	updated   time.Time
}

// Sink keeps the last value of every series and serves them as a prometheus.Collector.
// Monotonic counts are exported as counters carrying the cumulative value NVML reports
type Sink struct {
	mu         sync.Mutex
	series     map[string]*series
	staleAfter time.Duration
	clock      clock.PassiveClock
}

// NewSink returns a Sink dropping series not updated for staleAfter, 0 keeps them forever
func NewSink(staleAfter time.Duration) *Sink {
	return &Sink{
		series:     map[string]*series{},
		staleAfter: staleAfter,
		clock:      clock.RealClock{},
	}
}

func (s *Sink) Gauge(name string, value float64, tags []string) {
	s.set(name, value, tags, prometheus.GaugeValue)
}

func (s *Sink) MonotonicCount(name string, value float64, tags []string) {
	s.set(name, value, tags, prometheus.CounterValue)
}

func (s *Sink) set(name string, value float64, tags []string, vt prometheus.ValueType) {
	name = sanitize(name)
	labels := tagsToLabels(tags)
	key := seriesKey(name, labels)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[key] = &series{name: name, labels: labels, value: value, valueType: vt, updated: s.clock.Now()}
}

// Describe sends nothing, the sink is an unchecked collector since label sets follow the pods
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {}

func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	now := s.clock.Now()
	byName := map[string][]*series{}
	for key, sr := range s.series {
		if s.staleAfter > 0 && now.Sub(sr.updated) > s.staleAfter {
			delete(s.series, key)
			continue
		}
		byName[sr.name] = append(byName[sr.name], sr)
	}
	s.mu.Unlock()

	for name, list := range byName {
		// every series of a family must carry the same label names
		names := map[string]struct{}{}
		for _, sr := range list {
			for k := range sr.labels {
				names[k] = struct{}{}
			}
		}
		labelNames := make([]string, 0, len(names))
		for k := range names {
			labelNames = append(labelNames, k)
		}
		sort.Strings(labelNames)
		desc := prometheus.NewDesc(name, "NVML metric "+name, labelNames, nil)
		for _, sr := range list {
			values := make([]string, len(labelNames))
			for i, k := range labelNames {
				values[i] = sr.labels[k]
			}
			m, err := prometheus.NewConstMetric(desc, sr.valueType, sr.value, values...)
			if err != nil {
				glog.Warningf("Dropping series %s%v: %v", name, sr.labels, err)
				continue
			}
			ch <- m
		}
	}
}

// Len is the number of live series
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// tagsToLabels turns key:value tags into labels, a tag without value becomes key="true".
// The first tag of a key wins, so device and pod tags cannot be shadowed by static tags
func tagsToLabels(tags []string) map[string]string {
	labels := make(map[string]string, len(tags))
	for _, tag := range tags {
		key, value, found := strings.Cut(tag, ":")
		if !found {
			value = "true"
		}
		key = sanitize(key)
		if key == "" || strings.HasPrefix(key, model.ReservedLabelPrefix) {
			continue
		}
		if _, ok := labels[key]; ok {
			continue
		}
		labels[key] = value
	}
	return labels
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte(0xff)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// sanitize maps a metric or tag name to the Prometheus charset, nvml.fb_used becomes nvml_fb_used
func sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
