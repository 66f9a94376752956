package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/nexo-broker/nexo/internal/bridge/kafkaingest"
	"github.com/nexo-broker/nexo/internal/bridge/natsbridge"
	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/config"
	"github.com/nexo-broker/nexo/internal/dispatch"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/nxlog"
	"github.com/nexo-broker/nexo/internal/resourceguard"
	"github.com/nexo-broker/nexo/internal/scheduler"
	"github.com/nexo-broker/nexo/internal/snapshot"
	"github.com/nexo-broker/nexo/internal/transport"
	"github.com/nexo-broker/nexo/internal/workerpool"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides NEXO_LOG_LEVEL)")
	flag.Parse()

	bootLogger := nxlog.New(nxlog.Config{Level: "info", Format: "json"})

	maxProcs := runtime.GOMAXPROCS(0)
	bootLogger.Info().Int("gomaxprocs", maxProcs).Msg("automaxprocs applied")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := nxlog.New(nxlog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	kvBroker := kv.New()
	queueBroker := queue.New()
	pubsubBroker := pubsub.New()
	streamBroker := stream.New()

	pool := workerpool.New(cfg.WorkerCount, cfg.WorkerQueueSize, logger)
	poolCtx, stopPool := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	registry := transport.NewRegistry()
	dispatcher := dispatch.New(kvBroker, queueBroker, pubsubBroker, streamBroker, registry, pool, logger)

	var currentConn int64
	cpuSampler, err := resourceguard.NewCgroupCPUSampler()
	if err != nil {
		logger.Warn().Err(err).Msg("cgroup CPU sampler unavailable, CPU admission brake disabled")
	}
	guard := resourceguard.New(resourceguard.Limits{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		CPURejectThreshold: cfg.CPURejectThreshold,
	}, logger, cpuSampler, &currentConn)

	rateLimiter := resourceguard.NewConnectionRateLimiter(resourceguard.ConnectionRateLimiterConfig{}, logger)

	server := transport.New(cfg.Addr(), dispatcher, guard, rateLimiter, registry, &currentConn,
		cfg.PendingRequestTimeout, logger)

	sched := scheduler.New(kvBroker, queueBroker, streamBroker, cfg.SweepInterval, logger)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	var kafkaBridge *kafkaingest.Bridge
	if cfg.KafkaIngestEnabled() {
		kafkaBridge, err = kafkaingest.New(kafkaingest.Config{
			Brokers: splitList(cfg.KafkaBrokers),
			GroupID: "nexo-ingest",
			Topics:  map[string]string{"nexo-ingest": "kafka-ingest"},
		}, streamBroker, logger)
		if err != nil {
			logger.Error().Err(err).Msg("kafka ingest bridge disabled: failed to start")
		} else {
			kafkaBridge.Start()
		}
	}

	var natsBridge *natsbridge.Bridge
	if cfg.NATSBridgeEnabled() {
		natsBridge, err = natsbridge.New(natsbridge.Config{
			URL:      cfg.NATSURL,
			Subjects: map[string]string{"nexo.>": ""},
		}, pubsubBroker, registry, logger)
		if err != nil {
			logger.Error().Err(err).Msg("nats bridge disabled: failed to connect")
		} else if err := natsBridge.Start(); err != nil {
			logger.Error().Err(err).Msg("nats bridge disabled: failed to subscribe")
			natsBridge = nil
		}
	}

	metricsCollector := metrics.NewCollector(metrics.Sampler{
		KVKeys: kvBroker.Len,
		QueueDepths: func() map[[2]string]int {
			active, _ := queueBroker.Snapshot()
			depths := make(map[[2]string]int, len(active)*3)
			for _, q := range active {
				depths[[2]string{q.Name, "pending"}] = len(q.Pending)
				depths[[2]string{q.Name, "in_flight"}] = len(q.InFlight)
				depths[[2]string{q.Name, "scheduled"}] = len(q.Scheduled)
			}
			return depths
		},
		PubSubSubscribers: pubsubBroker.ActiveSubscriberCount,
		StreamLag: func() []metrics.StreamLagSample {
			var out []metrics.StreamLagSample
			for _, topic := range streamBroker.Snapshot() {
				for _, g := range topic.Groups {
					for _, p := range topic.Partitions {
						var lag uint64
						if p.EndOffset > g.CommittedOffsets[p.Partition] {
							lag = p.EndOffset - g.CommittedOffsets[p.Partition]
						}
						out = append(out, metrics.StreamLagSample{
							Stream:    topic.Name,
							Partition: strconv.FormatUint(uint64(p.Partition), 10),
							Group:     g.Name,
							Lag:       float64(lag),
						})
					}
				}
			}
			return out
		},
		WorkerQueueDepth:    pool.QueueDepth,
		WorkerQueueCapacity: pool.QueueCapacity,
		WorkerDropped:       pool.Dropped,
		CPUPercent: func() float64 {
			if cpuSampler == nil {
				return 0
			}
			return cpuSampler.CurrentPercent()
		},
		MemoryBytes: func() uint64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return stats.Alloc
		},
	}, cfg.MetricsInterval, logger)
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	go metricsCollector.Run(collectorCtx)

	metricsRegistry := metrics.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRegistry.Handler())
	snapshot.New(kvBroker, queueBroker, pubsubBroker, streamBroker).Register(mux)
	dashboard := &http.Server{Addr: cfg.DashboardAddr(), Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.DashboardAddr()).Msg("dashboard listening")
		if err := dashboard.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("dashboard server error")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("transport server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing transport listener")
	}
	if err := dashboard.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down dashboard server")
	}
	stopScheduler()
	stopCollector()
	if kafkaBridge != nil {
		kafkaBridge.Stop()
	}
	if natsBridge != nil {
		natsBridge.Stop()
	}
	rateLimiter.Stop()
	stopPool()

	fmt.Fprintln(os.Stdout, "nexo stopped")
}
