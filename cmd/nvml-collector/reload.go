package main

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nxsre/nvml-collector/pkg/collector"
	"github.com/nxsre/nvml-collector/pkg/types"
)

// intervalResetter is the part of *time.Ticker the reloader drives
type intervalResetter interface {
	Reset(d time.Duration)
}

// configReloader applies config file changes to a running collector. Only the check interval
// and the static tags are reloaded, everything else needs a restart
type configReloader struct {
	name      string
	watcher   *fsnotify.Watcher
	collector *collector.Collector
	ticker    intervalResetter

	mu     sync.Mutex
	config types.Config
}

// newConfigReloader watches the directory holding name, so the watch survives the file being replaced
func newConfigReloader(name string, config types.Config, c *collector.Collector, ticker intervalResetter) (*configReloader, error) {
	name = filepath.Clean(name)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "could not create config watcher")
	}
	if err := watcher.Add(filepath.Dir(name)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "could not watch %s", filepath.Dir(name))
	}
	return &configReloader{
		name:      name,
		watcher:   watcher,
		collector: c,
		ticker:    ticker,
		config:    config,
	}, nil
}

func (r *configReloader) Close() error {
	return r.watcher.Close()
}

// Interval is the check interval currently in effect
func (r *configReloader) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.CheckInterval
}

// relevant tells whether event may have changed the contents behind r.name
func (r *configReloader) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if filepath.Clean(event.Name) == r.name {
		return true
	}
	// kubelet updates ConfigMap volumes by swapping ..data and its timestamped target directory
	return strings.HasPrefix(filepath.Base(event.Name), "..")
}

// reload reads the config file again, a file that cannot be read keeps the previous settings
func (r *configReloader) reload() {
	next, err := types.ReadConfigFile(r.name)
	if err != nil {
		glog.Warningf("Keeping previous configuration: %v", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if next.CheckInterval != r.config.CheckInterval {
		glog.Infof("Check interval changed from %s to %s", r.config.CheckInterval, next.CheckInterval)
		r.ticker.Reset(next.CheckInterval)
		r.config.CheckInterval = next.CheckInterval
	}
	r.collector.SetTags(next.Tags)
	r.config.Tags = next.Tags
}

// run handles watcher events until ctx is done or the watcher is closed
func (r *configReloader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(event) {
				continue
			}
			glog.V(2).Infof("Config file change event %v", event)
			r.reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			glog.Warningf("Config file watcher error: %v", err)
		}
	}
}
