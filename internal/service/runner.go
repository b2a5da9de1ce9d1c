package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// JobRunner dispatches queued jobs to the scheduler, executors and reconciler.
// It is the job boundary: every failure is logged here and classified, and
// nothing is retried.
type JobRunner struct {
	scheduler  *ChargeScheduler
	charges    *ChargeExecutor
	voids      *VoidExecutor
	reconciler *PaymentReconciler
	logger     *zap.Logger
}

// NewJobRunner creates a new job runner
func NewJobRunner(scheduler *ChargeScheduler, charges *ChargeExecutor, voids *VoidExecutor, reconciler *PaymentReconciler) *JobRunner {
	return &JobRunner{
		scheduler:  scheduler,
		charges:    charges,
		voids:      voids,
		reconciler: reconciler,
		logger:     util.Named("jobs"),
	}
}

// Run executes one job. AlreadyTerminal outcomes are successes; the returned
// error is only informational since jobs are never redelivered on failure.
func (r *JobRunner) Run(ctx context.Context, job *models.Job) error {
	ctx, span := util.StartSpan(ctx, "JobRunner.Run",
		attribute.String("job_type", job.EventType),
		attribute.String("job_id", job.EventID))
	start := time.Now()
	err := r.dispatch(ctx, job)
	if models.IsNoop(err) {
		util.EndSpan(span, nil)
	} else {
		util.EndSpan(span, err)
	}
	util.JobProcessingLatency.WithLabelValues(job.EventType).Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("job_id", job.EventID),
		zap.String("job_type", job.EventType),
	}

	switch {
	case err == nil:
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "success").Inc()
		return nil
	case models.IsNoop(err):
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "noop").Inc()
		r.logger.Info("Job target already terminal", append(fields, zap.Error(err))...)
		return nil
	case errors.Is(err, models.ErrDataIntegrity):
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "integrity_error").Inc()
		r.logger.Error("Job abandoned on data integrity error",
			append(fields, zap.Bool("manual_review", true), zap.Error(err))...)
	case errors.Is(err, models.ErrNotFound):
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "not_found").Inc()
		r.logger.Warn("Job dropped, reference not found", append(fields, zap.Error(err))...)
	case errors.Is(err, models.ErrProviderCommunication):
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "provider_error").Inc()
		r.logger.Error("Job abandoned on provider failure", append(fields, zap.Error(err))...)
	default:
		util.JobsProcessedTotal.WithLabelValues(job.EventType, "failed").Inc()
		r.logger.Error("Job failed", append(fields, zap.Error(err))...)
	}
	return err
}

func (r *JobRunner) dispatch(ctx context.Context, job *models.Job) error {
	switch job.EventType {
	case models.JobTypeLateFeeScheduling:
		var payload models.LateFeeSchedulingJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := r.scheduler.EnqueueLateFees(ctx, payload)
		return err

	case models.JobTypeDiscountVoidCheck:
		var payload models.DiscountVoidCheckJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := r.scheduler.EnqueueDiscountVoids(ctx, payload)
		return err

	case models.JobTypeAddPurchasableItem:
		var payload models.AddPurchasableItemJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, _, err := r.charges.Execute(ctx, payload)
		return err

	case models.JobTypeVoidPurchase:
		var payload models.VoidPurchaseJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := r.voids.Execute(ctx, payload)
		return err

	case models.JobTypeStripeEvent:
		var payload models.StripeEventJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := r.reconciler.HandleEvent(ctx, payload)
		return err

	default:
		return fmt.Errorf("unknown job type %q", job.EventType)
	}
}
