package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaQueue writes jobs to a Kafka topic consumed by the worker service.
type KafkaQueue struct {
	writer *kafka.Writer
}

func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "jobs: marshal payload")
	}
	job := Job{Type: jobType, Payload: raw, EnqueuedAt: time.Now()}
	value, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "jobs: marshal job")
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(jobType),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "jobs: write")
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
