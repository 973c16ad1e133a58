package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	sghttp "sgrouter/internal/http"
	"sgrouter/pkg/cluster"
	"sgrouter/pkg/config"
	"sgrouter/pkg/hashring"
	"sgrouter/pkg/metrics"
	"sgrouter/pkg/rpc"
	"sgrouter/pkg/scatter"
	"sgrouter/pkg/store"
	"sgrouter/pkg/types"
	"sgrouter/pkg/urimapper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	hosts := flag.Int("hosts", 20, "number of local hosts to start")
	basePort := flag.Int("base-port", 18080, "port of the first local host")
	entities := flag.Int("entities", 20, "number of greetings to create")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logger.SlogLevel()})))

	if err := run(ctx, cfg, *hosts, *basePort, *entities); err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, n, basePort, count int) error {
	hostNames := cfg.Router.Hosts
	if len(hostNames) == 0 {
		stop, names, err := startLocalHosts(n, basePort)
		if err != nil {
			return err
		}
		defer stop()
		hostNames = names
	}

	rings, closeRings, err := ringProvider(ctx, cfg, hostNames)
	if err != nil {
		return err
	}
	defer closeRings()
	partitions, err := cfg.Router.Partitioner()
	if err != nil {
		return err
	}
	policy, err := cfg.Router.HashPolicy()
	if err != nil {
		return err
	}
	mapper := urimapper.New(rings, partitions, policy)

	transport, err := rpc.NewHTTPTransport(rpc.WithTimeout(cfg.Transport.Timeout), rpc.WithCompression(cfg.Transport.Compression))
	if err != nil {
		return err
	}
	defer transport.Close()

	reg := prometheus.NewRegistry()
	client := scatter.NewClient(transport, hostNames[0], mapper)
	client.Metrics = metrics.NewPrometheus(reg)

	resource := cfg.Router.Resource
	create := &scatter.Request{Method: types.BatchCreate, Resource: resource}
	for i := 0; i < count; i++ {
		create.Entities = append(create.Entities, json.RawMessage(fmt.Sprintf(`{"message":"hello %d","tone":"FRIENDLY"}`, i)))
	}
	created, err := client.Send(ctx, create)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	ids := created.Created
	slog.Info("created greetings", "count", len(ids))

	updates := make(map[types.Key]json.RawMessage, len(ids))
	patches := make(map[types.Key]json.RawMessage, len(ids))
	for _, id := range ids {
		updates[id] = json.RawMessage(fmt.Sprintf(`{"message":"updated %s","tone":"SINCERE"}`, id))
		patches[id] = json.RawMessage(`{"tone":"INSULTING"}`)
	}

	steps := []*scatter.Request{
		{Method: types.BatchGet, Resource: resource, IDs: ids, Fields: []string{"message"}},
		{Method: types.BatchUpdate, Resource: resource, IDs: ids, Inputs: updates},
		{Method: types.BatchPartialUpdate, Resource: resource, IDs: ids, Inputs: patches},
		{Method: types.BatchGet, Resource: resource, IDs: ids},
		{Method: types.BatchDelete, Resource: resource, IDs: ids},
	}
	for _, req := range steps {
		res, err := client.Send(ctx, req)
		if err != nil {
			return fmt.Errorf("%s: %w", req.Method, err)
		}
		byKind := map[string]int{}
		for _, ke := range res.Errors() {
			byKind[ke.Kind.String()]++
		}
		slog.Info("batch call done",
			"method", req.Method,
			"keys", len(req.IDs),
			"ok", len(res.Successes()),
			"failed", byKind)
	}

	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		slog.Debug("metric", "name", f.GetName(), "series", len(f.GetMetric()))
	}
	return nil
}

// startLocalHosts runs n host services that answer from one shared store,
// like replicas of one service.
func startLocalHosts(n, basePort int) (func(), []string, error) {
	shared := store.NewEntities()
	var servers []*sghttp.Server
	stop := func() {
		for _, srv := range servers {
			if err := srv.Stop(); err != nil {
				slog.Warn("failed to stop host", "error", err)
			}
		}
	}

	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		port := strconv.Itoa(basePort + i)
		name := "localhost:" + port
		srv, err := sghttp.NewServer(shared, port, sghttp.WithName(name), sghttp.WithGatherer(prometheus.NewRegistry()))
		if err != nil {
			stop()
			return nil, nil, err
		}
		if err := srv.Start(); err != nil {
			stop()
			return nil, nil, err
		}
		servers = append(servers, srv)
		names = append(names, name)
	}
	return stop, names, nil
}

// ringProvider watches ZooKeeper when configured, otherwise spreads the local
// hosts over the partitions. The returned func releases the provider.
func ringProvider(ctx context.Context, cfg config.Config, hosts []string) (hashring.Provider, func(), error) {
	if !cfg.ZooKeeper.Enabled() {
		return hashring.NewStaticProvider(hashring.Distribute(hosts, cfg.Router.Partitions), cfg.Router.VirtualNodes), func() {}, nil
	}

	src, err := cluster.NewZKRingSource(cfg.ZooKeeper.Servers, cfg.ZooKeeper.Root, cfg.ZooKeeper.SessionTimeout, cfg.Router.VirtualNodes)
	if err != nil {
		return nil, nil, err
	}
	for pid, members := range hashring.Distribute(hosts, cfg.Router.Partitions) {
		for _, h := range members {
			if err := src.Register(pid, h); err != nil {
				_ = src.Close()
				return nil, nil, err
			}
		}
	}
	if err := src.Refresh(); err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	src.RunWatch(ctx)
	return src, func() {
		if err := src.Close(); err != nil {
			slog.Warn("failed to close ZooKeeper session", "error", err)
		}
	}, nil
}
