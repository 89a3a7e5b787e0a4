package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxsre/nvml-collector/pkg/collector"
	"github.com/nxsre/nvml-collector/pkg/types"
	"github.com/nxsre/nvml-collector/pkg/utils/logtest"
)

type recordingTicker struct {
	mu        sync.Mutex
	intervals []time.Duration
}

func (r *recordingTicker) Reset(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals = append(r.intervals, d)
}

func (r *recordingTicker) resets() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.intervals)
}

// startReloader loads name, builds a collector from it and runs a reloader until the test ends
func startReloader(t *testing.T, name string) (*configReloader, *collector.Collector, *recordingTicker) {
	t.Helper()
	config, err := types.LoadConfig(name)
	require.NoError(t, err)
	c := collector.New(nil, nil, collector.Options{
		Socket: filepath.Join(t.TempDir(), "kubelet.sock"),
		Tags:   config.Tags,
		Log:    &logtest.Recorder{},
	})
	ticker := &recordingTicker{}
	r, err := newConfigReloader(name, config, c, ticker)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		r.Close()
	})
	return r, c, ticker
}

// saveByRename replaces name the way editors do, through a temporary file renamed over it
func saveByRename(t *testing.T, name, body string) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(name), ".config.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0644))
	require.NoError(t, os.Rename(tmp, name))
}

func waitForTags(t *testing.T, c *collector.Collector, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(c.Tags(), want)
	}, 5*time.Second, 10*time.Millisecond, "tags stayed %v", c.Tags())
}

func TestReloadAfterRenameSave(t *testing.T) {
	name := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte("checkInterval: 15s\ntags:\n  - \"cluster:a\"\n"), 0644))
	r, c, ticker := startReloader(t, name)
	assert.Equal(t, []string{"cluster:a"}, c.Tags())

	saveByRename(t, name, "checkInterval: 30s\ntags:\n  - \"cluster:b\"\n")
	waitForTags(t, c, "cluster:b")
	assert.Equal(t, 30*time.Second, r.Interval())
	assert.Equal(t, []time.Duration{30 * time.Second}, ticker.resets())

	// the watch survives the replaced file
	saveByRename(t, name, "checkInterval: 30s\ntags:\n  - \"cluster:c\"\n  - \"zone:z1\"\n")
	waitForTags(t, c, "cluster:c", "zone:z1")
	assert.Equal(t, []time.Duration{30 * time.Second}, ticker.resets())
}

func TestReloadKeepsPreviousConfigOnBadFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte("tags:\n  - \"cluster:a\"\n"), 0644))
	r, c, ticker := startReloader(t, name)

	saveByRename(t, name, "checkInterval: 5s\ntags:\n  - \"gpu:a100\"\n")
	assert.Never(t, func() bool {
		return !slices.Equal(c.Tags(), []string{"cluster:a"})
	}, 300*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 15*time.Second, r.Interval())

	// a valid file written afterwards is still picked up
	saveByRename(t, name, "checkInterval: 20s\ntags:\n  - \"cluster:b\"\n")
	waitForTags(t, c, "cluster:b")
	assert.Equal(t, 20*time.Second, r.Interval())
	assert.Equal(t, []time.Duration{20 * time.Second}, ticker.resets())
}

func TestReloadAfterConfigMapSwap(t *testing.T) {
	dir := t.TempDir()
	writeVersion := func(version, body string) {
		require.NoError(t, os.Mkdir(filepath.Join(dir, version), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, version, "config.yaml"), []byte(body), 0644))
	}
	writeVersion("..v1", "tags:\n  - \"cluster:a\"\n")
	require.NoError(t, os.Symlink("..v1", filepath.Join(dir, "..data")))
	name := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.Symlink(filepath.Join("..data", "config.yaml"), name))
	_, c, _ := startReloader(t, name)
	assert.Equal(t, []string{"cluster:a"}, c.Tags())

	writeVersion("..v2", "tags:\n  - \"cluster:b\"\n")
	require.NoError(t, os.Symlink("..v2", filepath.Join(dir, "..data_tmp")))
	require.NoError(t, os.Rename(filepath.Join(dir, "..data_tmp"), filepath.Join(dir, "..data")))
	waitForTags(t, c, "cluster:b")
}

func TestConfigReloaderRelevant(t *testing.T) {
	r := &configReloader{name: "/etc/nvml-collector/config.yaml"}
	for _, tc := range []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/etc/nvml-collector/config.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/etc/nvml-collector/config.yaml", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/etc/nvml-collector/config.yaml", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/etc/nvml-collector/config.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/etc/nvml-collector/..data", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/etc/nvml-collector/.config.yaml.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/etc/nvml-collector/other.yaml", Op: fsnotify.Write}, false},
	} {
		assert.Equal(t, tc.want, r.relevant(tc.event), tc.event.String())
	}
}
