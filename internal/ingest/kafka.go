package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// KafkaConfig configures the Kafka consumer. Each message value is one JSON
// envelope.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Validate checks the consumer configuration.
func (c KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	return nil
}

// messageReader is the subset of *kafka.Reader the source needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes packet envelopes from a Kafka topic.
type KafkaSource struct {
	cfg     KafkaConfig
	decoder Decoder
	logger  *slog.Logger
	reader  messageReader
}

// NewKafkaSource creates a consumer for cfg.
func NewKafkaSource(cfg KafkaConfig, decoder Decoder, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{cfg: cfg, decoder: decoder, logger: logging.OrDiscard(logger)}
}

func (s *KafkaSource) Name() string { return "kafka" }

// Run reads messages until ctx is done. Read errors are logged and retried
// with a short backoff.
func (s *KafkaSource) Run(ctx context.Context, out chan<- models.DataPacket) error {
	reader := s.reader
	if reader == nil {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  s.cfg.Brokers,
			Topic:    s.cfg.Topic,
			GroupID:  s.cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		})
	}
	defer reader.Close()

	s.logger.Info("kafka ingest started", "topic", s.cfg.Topic, "group", s.cfg.GroupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("kafka read error", "err", err)
			if !BackoffSleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		p, err := s.decoder.DecodeJSON(msg.Value)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(s.Name()).Inc()
			s.logger.Warn("skipping undecodable message",
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
			continue
		}
		if p.SourceID == "" && len(msg.Key) > 0 {
			p.SourceID = string(msg.Key)
		}
		metrics.PacketsReceived.WithLabelValues(s.Name()).Inc()
		if !send(ctx, out, p) {
			return nil
		}
	}
}
