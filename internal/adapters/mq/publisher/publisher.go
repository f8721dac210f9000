// Package publisher emits summaries of finished analysis jobs to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/metrics"
)

const writeTimeout = 5 * time.Second

// Summary is the message published when a job reaches a terminal state.
type Summary struct {
	JobID      string          `json:"job_id"`
	Kind       model.JobKind   `json:"kind"`
	Status     model.JobStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	FocusID    string          `json:"focus_sensor_id,omitempty"`
	Results    int             `json:"results"`
	Submitted  time.Time       `json:"submitted_at"`
	Finished   time.Time       `json:"finished_at"`
	DurationMS int64           `json:"duration_ms"`
}

// Publisher delivers job summaries.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
	Close() error
}

// New returns a Kafka publisher, or a no-op one when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Noop{}
	}
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		Async:        false,
	})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes summaries keyed by job ID.
type Kafka struct {
	w messageWriter
}

func newKafka(w messageWriter) *Kafka { return &Kafka{w: w} }

func (k *Kafka) Publish(ctx context.Context, s Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		metrics.RecordJobPublished("error")
		return fmt.Errorf("marshal summary: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(s.JobID), Value: b, Time: s.Finished}); err != nil {
		metrics.RecordJobPublished("error")
		return fmt.Errorf("kafka write: %w", err)
	}
	metrics.RecordJobPublished("ok")
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }

// Noop discards summaries.
type Noop struct{}

func (Noop) Publish(context.Context, Summary) error { return nil }
func (Noop) Close() error                           { return nil }
