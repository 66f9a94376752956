// Package kafkaingest is an optional bridge that consumes an external Kafka
// (or Redpanda) cluster with franz-go and republishes every record into a
// Stream topic, so externally-produced data can be read back through the
// partitioned consumer-group Fetch/Ack/Commit path like any other record.
//
// It is entirely off the broker's correctness path: with no brokers
// configured the bridge is never constructed and the Stream broker works
// exactly as if kafkaingest did not exist.
package kafkaingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// Config configures the ingest bridge.
type Config struct {
	Brokers []string
	GroupID string
	// Topics maps a Kafka topic name to the Stream topic it feeds. The
	// Stream topic must already exist (or be passive-created) before a
	// record can be published into it.
	Topics map[string]string
}

// Bridge polls an external Kafka cluster and republishes records into Stream.
type Bridge struct {
	client *kgo.Client
	stream *stream.Broker
	topics map[string]string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recordsIngested uint64
	recordsFailed   uint64
}

// New builds a Bridge. It does not start consuming until Start is called.
func New(cfg Config, streamB *stream.Broker, logger zerolog.Logger) (*Bridge, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkaingest: at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafkaingest: consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafkaingest: at least one topic mapping is required")
	}

	kafkaTopics := make([]string, 0, len(cfg.Topics))
	for kt := range cfg.Topics {
		kafkaTopics = append(kafkaTopics, kt)
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(kafkaTopics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info().Interface("partitions", assigned).Msg("kafkaingest: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info().Interface("partitions", revoked).Msg("kafkaingest: partitions revoked")
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kafkaingest: build client: %w", err)
	}

	return &Bridge{
		client: client,
		stream: streamB,
		topics: cfg.Topics,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins consuming in its own goroutine.
func (b *Bridge) Start() {
	b.logger.Info().Msg("kafkaingest: starting")
	b.wg.Add(1)
	go b.consumeLoop()
}

// Stop cancels the consumer and blocks until it has drained.
func (b *Bridge) Stop() {
	b.logger.Info().Msg("kafkaingest: stopping")
	b.cancel()
	b.wg.Wait()
	b.client.Close()
	b.logger.Info().
		Uint64("records_ingested", atomic.LoadUint64(&b.recordsIngested)).
		Uint64("records_failed", atomic.LoadUint64(&b.recordsFailed)).
		Msg("kafkaingest: stopped")
}

func (b *Bridge) consumeLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		fetches := b.client.PollFetches(b.ctx)
		if b.ctx.Err() != nil {
			return
		}

		for _, err := range fetches.Errors() {
			b.logger.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).
				Msg("kafkaingest: fetch error")
		}

		fetches.EachRecord(b.ingestRecord)
	}
}

func (b *Bridge) ingestRecord(record *kgo.Record) {
	streamTopic, ok := b.topics[record.Topic]
	if !ok {
		return
	}

	routingKey := string(record.Key)
	if _, _, err := b.stream.Publish(streamTopic, protocol.RawAny(record.Value), routingKey); err != nil {
		atomic.AddUint64(&b.recordsFailed, 1)
		b.logger.Error().Err(err).
			Str("kafka_topic", record.Topic).
			Str("stream_topic", streamTopic).
			Msg("kafkaingest: publish into stream failed")
		return
	}

	atomic.AddUint64(&b.recordsIngested, 1)
	metrics.StreamRecordsAppended.WithLabelValues(streamTopic).Inc()
	b.logger.Debug().
		Str("kafka_topic", record.Topic).
		Str("stream_topic", streamTopic).
		Str("routing_key", routingKey).
		Msg("kafkaingest: record ingested")
}

// Metrics returns the bridge's running counters.
func (b *Bridge) Metrics() (ingested, failed uint64) {
	return atomic.LoadUint64(&b.recordsIngested), atomic.LoadUint64(&b.recordsFailed)
}
