package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReasonDiscountExpired is recorded on purchases voided by the discount sweep
const ReasonDiscountExpired = "The early registration discount expired before payment was received."

// ChargeScheduler finds bowlers needing an automatic charge or void and
// enqueues one executor job for each. Re-running a sweep inside the lookback
// window enqueues nothing new that an executor would act on.
type ChargeScheduler struct {
	store    *store.Store
	catalog  *Catalog
	queue    JobQueue
	locker   Locker
	lookback time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewChargeScheduler creates a new charge scheduler. locker may be nil.
func NewChargeScheduler(store *store.Store, catalog *Catalog, queue JobQueue, locker Locker, lookback, lockTTL time.Duration) *ChargeScheduler {
	return &ChargeScheduler{
		store:    store,
		catalog:  catalog,
		queue:    queue,
		locker:   locker,
		lookback: lookback,
		lockTTL:  lockTTL,
		logger:   util.Named("scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the scheduler's notion of now
func (s *ChargeScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// inWindow reports whether t fell within the lookback window ending now
func (s *ChargeScheduler) inWindow(t time.Time) bool {
	now := s.now()
	return t.After(now.Add(-s.lookback)) && !t.After(now)
}

// SweepLateFees runs ScheduleLateFeeCheck for every tournament opted into
// automatic late fees. It returns how many scheduling passes were enqueued.
func (s *ChargeScheduler) SweepLateFees(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ChargeScheduler.SweepLateFees")
	defer span.End()

	tournaments, err := s.store.TournamentsWithAutomaticLateFees(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tournaments: %w", err)
	}

	scheduled := 0
	for _, t := range tournaments {
		ok, err := s.ScheduleLateFeeCheck(ctx, t.ID)
		if err != nil {
			s.logger.Error("Late fee check failed",
				zap.Int64("tournament_id", t.ID),
				zap.Error(err))
			continue
		}
		if ok {
			scheduled++
		}
	}
	return scheduled, nil
}

// ScheduleLateFeeCheck enqueues a late-fee scheduling pass when the
// tournament's late fee started applying within the lookback window.
func (s *ChargeScheduler) ScheduleLateFeeCheck(ctx context.Context, tournamentID int64) (bool, error) {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return false, err
	}
	if !t.AutomaticLateFees {
		return false, nil
	}

	item, err := s.catalog.LedgerItem(ctx, s.store.Repo, t.ID, models.DeterminationLateFee)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debug("Tournament has no late fee item", zap.Int64("tournament_id", t.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	appliesAt, ok := item.Configuration.Time(models.ConfigAppliesAt)
	if !ok || !s.inWindow(appliesAt) {
		return false, nil
	}

	if err := enqueue(ctx, s.queue, models.JobTypeLateFeeScheduling,
		models.LateFeeSchedulingJob{TournamentID: t.ID, ItemID: item.ID}); err != nil {
		return false, fmt.Errorf("failed to enqueue late fee scheduling: %w", err)
	}
	util.SweepEnqueuedTotal.WithLabelValues("late_fee_check").Inc()

	s.logger.Info("Late fee scheduling enqueued",
		zap.Int64("tournament_id", t.ID),
		zap.Int64("item_id", item.ID),
		zap.Time("applies_at", appliesAt))
	return true, nil
}

// EnqueueLateFees enqueues one automatic charge per bowler holding an
// unpaid entry fee and no late fee purchase of any state.
func (s *ChargeScheduler) EnqueueLateFees(ctx context.Context, job models.LateFeeSchedulingJob) (int, error) {
	ctx, span := util.StartSpan(ctx, "ChargeScheduler.EnqueueLateFees",
		attribute.Int64("tournament_id", job.TournamentID))
	defer span.End()

	release, ok, err := s.lock(ctx, fmt.Sprintf("sweep:late_fee:%d", job.ItemID))
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Info("Late fee fan-out already running", zap.Int64("item_id", job.ItemID))
		return 0, nil
	}
	defer release()

	bowlers, err := s.store.BowlersOwingLateFee(ctx, job.TournamentID, job.ItemID)
	if err != nil {
		return 0, fmt.Errorf("failed to find bowlers owing late fee: %w", err)
	}

	for _, bowlerID := range bowlers {
		err := enqueue(ctx, s.queue, models.JobTypeAddPurchasableItem, models.AddPurchasableItemJob{
			BowlerID:  bowlerID,
			ItemID:    job.ItemID,
			Source:    models.SourceAutomatic,
			Automatic: true,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue late fee for bowler %d: %w", bowlerID, err)
		}
		util.SweepEnqueuedTotal.WithLabelValues("late_fee").Inc()
	}

	s.logger.Info("Late fees enqueued",
		zap.Int64("tournament_id", job.TournamentID),
		zap.Int64("item_id", job.ItemID),
		zap.Int("bowlers", len(bowlers)))
	return len(bowlers), nil
}

// SweepDiscountVoids runs ScheduleDiscountVoidCheck for the early discount of
// every tournament opted into automatic discount voids.
func (s *ChargeScheduler) SweepDiscountVoids(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ChargeScheduler.SweepDiscountVoids")
	defer span.End()

	tournaments, err := s.store.TournamentsWithAutomaticDiscountVoids(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tournaments: %w", err)
	}

	scheduled := 0
	for _, t := range tournaments {
		items, err := s.store.EnabledLedgerItems(ctx, t.ID, models.DeterminationEarlyDiscount)
		if err != nil {
			s.logger.Error("Failed to list early discounts",
				zap.Int64("tournament_id", t.ID),
				zap.Error(err))
			continue
		}
		for _, item := range items {
			ok, err := s.ScheduleDiscountVoidCheck(ctx, item.ID)
			if err != nil {
				s.logger.Error("Discount void check failed",
					zap.Int64("item_id", item.ID),
					zap.Error(err))
				continue
			}
			if ok {
				scheduled++
			}
		}
	}
	return scheduled, nil
}

// ScheduleDiscountVoidCheck enqueues a void check for an early discount whose
// valid_until passed within the lookback window.
func (s *ChargeScheduler) ScheduleDiscountVoidCheck(ctx context.Context, itemID int64) (bool, error) {
	item, err := s.store.GetPurchasableItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if item.Determination != models.DeterminationEarlyDiscount || !item.Enabled {
		return false, nil
	}

	t, err := s.store.GetTournament(ctx, item.TournamentID)
	if err != nil {
		return false, err
	}
	if !t.AutomaticDiscountVoids {
		return false, nil
	}

	validUntil, ok := item.Configuration.Time(models.ConfigValidUntil)
	if !ok || !s.inWindow(validUntil) {
		return false, nil
	}

	if err := enqueue(ctx, s.queue, models.JobTypeDiscountVoidCheck,
		models.DiscountVoidCheckJob{ItemID: item.ID}); err != nil {
		return false, fmt.Errorf("failed to enqueue discount void check: %w", err)
	}
	util.SweepEnqueuedTotal.WithLabelValues("discount_void_check").Inc()

	s.logger.Info("Discount void check enqueued",
		zap.Int64("item_id", item.ID),
		zap.Time("valid_until", validUntil))
	return true, nil
}

// EnqueueDiscountVoids enqueues one void job per unpaid purchase of the
// discount. Paid and voided purchases are left alone.
func (s *ChargeScheduler) EnqueueDiscountVoids(ctx context.Context, job models.DiscountVoidCheckJob) (int, error) {
	ctx, span := util.StartSpan(ctx, "ChargeScheduler.EnqueueDiscountVoids",
		attribute.Int64("item_id", job.ItemID))
	defer span.End()

	release, ok, err := s.lock(ctx, fmt.Sprintf("sweep:discount_void:%d", job.ItemID))
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Info("Discount void fan-out already running", zap.Int64("item_id", job.ItemID))
		return 0, nil
	}
	defer release()

	purchases, err := s.store.UnpaidPurchasesOfItem(ctx, job.ItemID)
	if err != nil {
		return 0, fmt.Errorf("failed to find unpaid purchases: %w", err)
	}

	for _, p := range purchases {
		err := enqueue(ctx, s.queue, models.JobTypeVoidPurchase, models.VoidPurchaseJob{
			PurchaseID: p.ID,
			Reason:     ReasonDiscountExpired,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue void for purchase %d: %w", p.ID, err)
		}
		util.SweepEnqueuedTotal.WithLabelValues("discount_void").Inc()
	}

	s.logger.Info("Discount voids enqueued",
		zap.Int64("item_id", job.ItemID),
		zap.Int("purchases", len(purchases)))
	return len(purchases), nil
}

func (s *ChargeScheduler) lock(ctx context.Context, key string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}
