package service

import (
	"context"
	"time"

	"tournament-payments/internal/models"
)

// JobQueue accepts background jobs. Implementations need not deduplicate:
// every job body re-checks persisted state before acting.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Notifier sends fire-and-forget messages to the notification service
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Locker guards a sweep fan-out against concurrent scheduler replicas
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

func enqueue(ctx context.Context, q JobQueue, jobType string, payload interface{}) error {
	job, err := models.NewJob(jobType, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}
