package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes each report as one JSON message keyed by run ID.
type KafkaWriter struct {
	writer messageWriter
	topic  string
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
		topic: topic,
	}
}

func (kw *KafkaWriter) WriteReport(ctx context.Context, r *measure.Report) error {
	msg, err := reportMessage(r)
	if err != nil {
		return err
	}
	if err := kw.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish report to %s: %w", kw.topic, err)
	}
	return nil
}

func (kw *KafkaWriter) Close() error {
	return kw.writer.Close()
}

func reportMessage(r *measure.Report) (kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode report: %w", err)
	}
	return kafka.Message{
		Key:   []byte(r.RunID),
		Value: value,
		Time:  r.GeneratedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
