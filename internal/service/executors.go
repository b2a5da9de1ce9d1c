package service

import (
	"context"
	"errors"
	"fmt"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ChargeExecutor attaches one item to one bowler as an unpaid purchase and
// records its ledger counterpart in the same transaction.
type ChargeExecutor struct {
	store     *store.Store
	purchases *PurchaseService
	ledger    *Ledger
	logger    *zap.Logger
}

// NewChargeExecutor creates a new charge executor
func NewChargeExecutor(store *store.Store, purchases *PurchaseService, ledger *Ledger) *ChargeExecutor {
	return &ChargeExecutor{
		store:     store,
		purchases: purchases,
		ledger:    ledger,
		logger:    util.Named("charge_executor"),
	}
}

// Execute charges job.ItemID to job.BowlerID. For automatic charges a bowler
// already holding the single-use item is a no-op; for every other source the
// SingleUseViolationError reaches the caller. An automatic late fee is only
// charged while the bowler still holds an unpaid entry fee.
func (e *ChargeExecutor) Execute(ctx context.Context, job models.AddPurchasableItemJob) (models.TransitionResult, *models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "ChargeExecutor.Execute",
		attribute.Int64("bowler_id", job.BowlerID),
		attribute.Int64("item_id", job.ItemID))
	defer span.End()

	source := job.Source
	if source == "" {
		source = models.SourcePurchase
	}

	var purchase *models.Purchase
	skipped := false
	err := e.store.WithTx(ctx, func(repo *store.Repo) error {
		bowler, err := repo.GetBowler(ctx, job.BowlerID)
		if err != nil {
			return err
		}
		item, err := repo.GetPurchasableItem(ctx, job.ItemID)
		if err != nil {
			return err
		}

		if job.Automatic && item.IsLedgerItem() && item.Determination == models.DeterminationLateFee {
			owing, err := repo.UnpaidLedgerPurchasesForBowler(ctx, bowler.ID, models.DeterminationEntryFee)
			if err != nil {
				return fmt.Errorf("failed to check unpaid entry fee: %w", err)
			}
			if len(owing) == 0 {
				skipped = true
				return nil
			}
		}

		p, err := e.purchases.CreatePurchase(ctx, repo, bowler, item, nil)
		if err != nil {
			return err
		}

		rec := Debit(p.Amount, source, item.Name)
		if item.IsDiscount() {
			rec = Credit(p.Amount, source, item.Name)
		}
		if _, err := e.ledger.Record(ctx, repo, bowler.ID, rec); err != nil {
			return err
		}

		purchase = p
		return nil
	})

	if err != nil {
		if job.Automatic && errors.Is(err, models.ErrSingleUseViolation) {
			e.logger.Info("Automatic charge already applied",
				zap.Int64("bowler_id", job.BowlerID),
				zap.Int64("item_id", job.ItemID))
			return models.TransitionNoop, nil, nil
		}
		span.RecordError(err)
		return models.TransitionNoop, nil, fmt.Errorf("charge item %d to bowler %d: %w", job.ItemID, job.BowlerID, err)
	}

	if skipped {
		e.logger.Info("Entry fee no longer unpaid, skipping late fee",
			zap.Int64("bowler_id", job.BowlerID),
			zap.Int64("item_id", job.ItemID))
		return models.TransitionNoop, nil, nil
	}

	util.PurchasesCreatedTotal.WithLabelValues(source).Inc()
	e.logger.Info("Purchase charged",
		zap.Int64("bowler_id", job.BowlerID),
		zap.Int64("item_id", job.ItemID),
		zap.Int64("purchase_id", purchase.ID),
		zap.String("amount", purchase.Amount.String()),
		zap.String("source", source))
	return models.TransitionApplied, purchase, nil
}

// VoidExecutor voids one unpaid purchase and records the offsetting entry in
// the same transaction.
type VoidExecutor struct {
	store     *store.Store
	purchases *PurchaseService
	logger    *zap.Logger
}

// NewVoidExecutor creates a new void executor
func NewVoidExecutor(store *store.Store, purchases *PurchaseService) *VoidExecutor {
	return &VoidExecutor{
		store:     store,
		purchases: purchases,
		logger:    util.Named("void_executor"),
	}
}

// Execute voids job.PurchaseID. A purchase that is already voided is a no-op.
// A paid purchase yields AlreadyTerminalError, which callers at the job
// boundary treat as a no-op as well.
func (e *VoidExecutor) Execute(ctx context.Context, job models.VoidPurchaseJob) (models.TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "VoidExecutor.Execute",
		attribute.Int64("purchase_id", job.PurchaseID))
	defer span.End()

	result := models.TransitionApplied
	err := e.store.WithTx(ctx, func(repo *store.Repo) error {
		p, err := repo.GetPurchase(ctx, job.PurchaseID)
		if err != nil {
			return err
		}

		res, err := p.State().Transition(models.PurchaseVoided)
		if err != nil {
			return &models.AlreadyTerminalError{Kind: "purchase", ID: p.ID, State: string(p.State())}
		}
		if res == models.TransitionNoop {
			result = models.TransitionNoop
			return nil
		}

		_, err = e.purchases.Void(ctx, repo, p, job.Reason)
		if err != nil && p.State() == models.PurchaseVoided && models.IsNoop(err) {
			// voided concurrently between the read and the update
			result = models.TransitionNoop
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return models.TransitionNoop, fmt.Errorf("void purchase %d: %w", job.PurchaseID, err)
	}

	e.logger.Info("Void executed",
		zap.Int64("purchase_id", job.PurchaseID),
		zap.String("result", result.String()),
		zap.String("reason", job.Reason))
	return result, nil
}
