package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"tournament-payments/internal/models"

	"github.com/segmentio/kafka-go"
)

// JobPublisher puts jobs on the job topic
type JobPublisher struct {
	producer *Producer
}

// NewJobPublisher creates a new job publisher
func NewJobPublisher(producer *Producer) *JobPublisher {
	return &JobPublisher{producer: producer}
}

// Enqueue publishes a job keyed by its id
func (jp *JobPublisher) Enqueue(ctx context.Context, job *models.Job) error {
	return jp.producer.PublishEvent(ctx, job.EventID, job)
}

// NotificationPublisher puts notifications on the notification topic
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

// Notify publishes a notification keyed by bowler, keeping one bowler's
// messages on one partition
func (np *NotificationPublisher) Notify(ctx context.Context, n *models.Notification) error {
	key := fmt.Sprintf("bowler-%d", n.BowlerID)
	return np.producer.PublishEvent(ctx, key, n)
}

// DecodeJob unmarshals a job envelope from a Kafka message
func DecodeJob(msg kafka.Message) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.EventType == "" {
		return nil, fmt.Errorf("job at offset %d has no type", msg.Offset)
	}
	return &job, nil
}
