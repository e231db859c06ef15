// svcgraph hosts a service container: it loads service descriptions from
// directories, installs the boot services with their dependencies and runs
// until a shutdown signal arrives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunlightlinux/svcgraph/internal/util"
	"github.com/sunlightlinux/svcgraph/pkg/config"
	"github.com/sunlightlinux/svcgraph/pkg/eventloop"
	"github.com/sunlightlinux/svcgraph/pkg/logging"
	"github.com/sunlightlinux/svcgraph/pkg/metrics"
	"github.com/sunlightlinux/svcgraph/pkg/service"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile  string
		serviceDirs string
		boot        string
		logLevel    string
		metricsAddr string
		writeConfig string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "settings file (YAML)")
	flag.StringVar(&serviceDirs, "services-dir", "", "service description directories (comma-separated)")
	flag.StringVar(&boot, "boot", "", "services to install at startup (comma-separated)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, notice, warn, error)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /status on this address")
	flag.StringVar(&writeConfig, "write-config", "", "write the effective settings to this file and exit")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("svcgraph version %s\n", version)
		return 0
	}

	settings, err := config.LoadSettings(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "svcgraph: %v\n", err)
		return 2
	}
	if serviceDirs != "" {
		settings.ServiceDirs = util.SplitList(serviceDirs)
	}
	if boot != "" {
		settings.Boot = util.SplitList(boot)
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}
	if metricsAddr != "" {
		settings.MetricsAddr = metricsAddr
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "svcgraph: invalid settings: %v\n", err)
		return 2
	}
	if writeConfig != "" {
		if err := config.WriteSettings(writeConfig, *settings); err != nil {
			fmt.Fprintf(os.Stderr, "svcgraph: %v\n", err)
			return 1
		}
		return 0
	}

	level, _ := settings.Level()
	logger := logging.New(level)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg, settings.MetricsNamespace)
	if err != nil {
		logger.Error("Metrics setup failed: %v", err)
		return 1
	}

	c, err := service.New(
		service.WithLogger(logger),
		service.WithWorkers(settings.Workers),
		service.WithRegisterer(reg, settings.MetricsNamespace+"_executor"),
		service.WithListener(collector),
	)
	if err != nil {
		logger.Error("Container setup failed: %v", err)
		return 1
	}

	logger.Info("Service directories: %v", settings.ServiceDirs)
	loader := config.NewDirLoader(c, settings.ServiceDirs)
	bootNames := make([]service.ServiceName, 0, len(settings.Boot))
	for _, b := range settings.Boot {
		n, err := service.Parse(b)
		if err != nil {
			logger.Error("Bad boot service name '%s': %v", b, err)
			return 2
		}
		bootNames = append(bootNames, n)
	}
	if _, err := loader.Load(bootNames...); err != nil {
		logger.Error("Failed to load boot services %v: %v", settings.Boot, err)
		_ = c.Shutdown(context.Background())
		return 1
	}
	logger.Notice("Boot services %v installed", settings.Boot)

	var srv *http.Server
	if settings.MetricsAddr != "" {
		srv = newHTTPServer(settings.MetricsAddr, reg, c)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server: %v", err)
			}
		}()
		logger.Info("Serving metrics on %s", settings.MetricsAddr)
	}

	err = eventloop.Run(context.Background(), c, logger, settings)

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	if err != nil {
		logger.Error("Shutdown: %v", err)
		return 1
	}
	logger.Info("svcgraph shutdown complete")
	return 0
}

func newHTTPServer(addr string, reg *prometheus.Registry, c *service.Container) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Statistics service.Statistics `json:"statistics"`
			Services   []service.Status   `json:"services"`
		}{c.Monitor().Statistics(), c.Status()})
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
