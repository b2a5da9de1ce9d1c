package worker

import (
	"context"
	"fmt"

	"tournament-payments/internal/broker"
	"tournament-payments/internal/models"
	"tournament-payments/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Runner executes one decoded job
type Runner interface {
	Run(ctx context.Context, job *models.Job) error
}

// JobWorker consumes the job topic and hands each job to the runner
type JobWorker struct {
	consumer *broker.Consumer
	runner   Runner
	logger   *zap.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(consumer *broker.Consumer, runner Runner) *JobWorker {
	return &JobWorker{
		consumer: consumer,
		runner:   runner,
		logger:   util.Named("job_worker"),
	}
}

// Start starts the worker. It blocks until ctx is cancelled.
func (w *JobWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting job worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage decodes and runs one job. Panics are recovered so a single
// job cannot take the worker down.
func (w *JobWorker) HandleMessage(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job panicked",
				zap.Int64("offset", msg.Offset),
				zap.Any("panic", r))
			util.JobsProcessedTotal.WithLabelValues("unknown", "panic").Inc()
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	job, err := broker.DecodeJob(msg)
	if err != nil {
		w.logger.Error("Dropping undecodable job", zap.Int64("offset", msg.Offset), zap.Error(err))
		util.JobsProcessedTotal.WithLabelValues("unknown", "invalid").Inc()
		return err
	}
	return w.runner.Run(ctx, job)
}

// Stop stops the worker
func (w *JobWorker) Stop() error {
	w.logger.Info("Stopping job worker")
	return w.consumer.Close()
}
