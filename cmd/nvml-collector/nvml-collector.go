package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/nxsre/nvml-collector/pkg/collector"
	"github.com/nxsre/nvml-collector/pkg/gpu"
	"github.com/nxsre/nvml-collector/pkg/metrics"
	"github.com/nxsre/nvml-collector/pkg/types"
	"github.com/nxsre/nvml-collector/pkg/utils"
)

var (
	configFile    = flag.String("config", types.ConfigFile, "path of the collector configuration file")
	listenAddress = flag.String("listen", "", "address serving /metrics, overrides listenAddress of the config file")
)

// runCheck runs one sampling pass, a failed pass is retried on the next tick
func runCheck(ctx context.Context, c *collector.Collector, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := c.Check(ctx); err != nil {
		glog.Errorf("NVML check failed: %v", err)
		return
	}
	glog.V(4).Infof("NVML check done in %s", time.Since(start))
}

func main() {
	flag.Parse()
	defer glog.Flush()

	config, err := types.LoadConfig(*configFile)
	if err != nil {
		glog.Fatalf("Failed to load configuration: %v", err)
	}
	if *listenAddress != "" {
		config.ListenAddress = *listenAddress
	}
	glog.Infof("Collector configuration %+v", config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := metrics.NewSink(config.StaleAfter)
	c := collector.New(gpu.NewLibrary(config.LibraryPath), sink, collector.Options{
		Context:        ctx,
		KubeletTimeout: config.KubeletTimeout,
		Tags:           config.Tags,
	})

	server := metrics.NewServer(metrics.NewRegistry(sink), c)
	go func() {
		glog.Infof("Serving metrics at %s", config.ListenAddress)
		if err := server.ListenAndServe(config.ListenAddress); err != nil {
			glog.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// respond to syscalls for termination
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ticker := time.NewTicker(config.CheckInterval)
	defer ticker.Stop()

	interval := func() time.Duration { return config.CheckInterval }
	if exists, err := utils.PathExists(filepath.Dir(*configFile)); err != nil || !exists {
		glog.Infof("No config directory for %s, not watching for changes", *configFile)
	} else if reloader, err := newConfigReloader(*configFile, config, c, ticker); err != nil {
		glog.Warningf("Not watching config file: %v", err)
	} else {
		defer reloader.Close()
		go reloader.run(ctx)
		interval = reloader.Interval
	}

	runCheck(ctx, c, interval())

	/* Run checks on every tick, stop on termination signals */
	for {
		select {
		case <-ticker.C:
			runCheck(ctx, c, interval())

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT:
				glog.Infof("Received signal \"%v\", shutting down.", sig)
				cancel()
				if err := server.Shutdown(); err != nil {
					glog.Warningf("Metrics server shutdown: %v", err)
				}
				return
			}
			glog.Infof("Received signal \"%v\"", sig)
		}
	}
}
