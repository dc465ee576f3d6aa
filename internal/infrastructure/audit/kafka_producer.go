// Package audit publishes admission and queue lifecycle events to Kafka.
// Publishing is best-effort: the admission path never fails because the
// audit stream is down.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/pkg/logger"
)

// KafkaProducer is the Kafka-backed AuditService.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer creates the Kafka audit producer.
func NewKafkaProducer(cfg *config.KafkaConfig, log logger.Logger) (service.AuditService, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: time.Duration(cfg.BatchTimeout) * time.Millisecond,
	}
	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("kafka_audit"),
	}, nil
}

// Publish sends one audit event, keyed by account so per-account events stay
// ordered within a partition.
func (p *KafkaProducer) Publish(ctx context.Context, event service.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal audit event", err)
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: payload,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to publish audit event", err,
			logger.String("kind", event.Kind),
			logger.String("account_id", event.AccountID))
	}
	return err
}

// Close closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type noopAudit struct{}

// NewNoopAudit returns an AuditService that drops everything. Used when the
// Kafka audit stream is disabled and in tests.
func NewNoopAudit() service.AuditService { return noopAudit{} }

func (noopAudit) Publish(ctx context.Context, event service.AuditEvent) error { return nil }
func (noopAudit) Close() error                                                { return nil }
