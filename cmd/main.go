package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sgrouter/internal/http"
	"sgrouter/pkg/cluster"
	"sgrouter/pkg/metrics"
	"sgrouter/pkg/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := os.Getenv("SGROUTER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := initConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	port := strconv.Itoa(cfg.Server.Port)
	advertise := cfg.Server.Advertise
	if advertise == "" {
		advertise = "localhost:" + port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	entities := store.NewEntities()
	if err := metrics.RegisterStoreSize(reg, entities.Len); err != nil {
		slog.Error("failed to register store metrics", "error", err)
		os.Exit(1)
	}

	server, err := http.NewServer(entities, port, http.WithGatherer(reg), http.WithName(advertise))
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	// --- ZooKeeper membership ---
	if cfg.ZooKeeper.Enabled() {
		rings, err := cluster.NewZKRingSource(cfg.ZooKeeper.Servers, cfg.ZooKeeper.Root, cfg.ZooKeeper.SessionTimeout, cfg.Router.VirtualNodes)
		if err != nil {
			slog.Error("failed to connect to ZooKeeper", "error", err)
			os.Exit(1)
		}
		defer rings.Close()

		for _, pid := range cfg.Server.Partitions {
			if err := rings.Register(pid, advertise); err != nil {
				slog.Error("failed to register node in ZooKeeper", "partition", pid, "error", err)
				os.Exit(1)
			}
		}
	}

	slog.Info("host node is running", "node", advertise, "partitions", cfg.Server.Partitions, "zookeeper", cfg.ZooKeeper.Enabled())

	<-ctx.Done()

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}
	slog.Info("host node stopped")
}
