package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PurchaseService owns purchase state transitions. A paid or voided
// purchase is terminal and never transitions again.
type PurchaseService struct {
	store  *store.Store
	ledger *Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(store *store.Store, ledger *Ledger) *PurchaseService {
	return &PurchaseService{
		store:  store,
		ledger: ledger,
		logger: util.Named("purchases"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreatePurchase inserts an unpaid purchase of item for bowler. amount
// defaults to the item's current value. Single-use items are refused with
// SingleUseViolationError when the bowler already holds a purchase of them.
func (s *PurchaseService) CreatePurchase(ctx context.Context, repo *store.Repo, bowler *models.Bowler, item *models.PurchasableItem, amount *decimal.Decimal) (*models.Purchase, error) {
	if item.TournamentID != bowler.TournamentID {
		return nil, &models.NotFoundError{Kind: "purchasable_item", Key: fmt.Sprintf("%d in tournament %d", item.ID, bowler.TournamentID)}
	}

	value := item.Value
	if amount != nil {
		value = *amount
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: purchase amount %s", models.ErrInvalidAmount, value)
	}

	singleUse := item.IsSingleUse()
	if singleUse {
		exists, err := repo.HasPurchase(ctx, bowler.ID, item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing purchases: %w", err)
		}
		if exists {
			return nil, &models.SingleUseViolationError{BowlerID: bowler.ID, ItemID: item.ID}
		}
	}

	p := &models.Purchase{
		BowlerID:          bowler.ID,
		PurchasableItemID: item.ID,
		Identifier:        uuid.New().String(),
		Amount:            value,
	}
	if err := repo.CreatePurchase(ctx, p, singleUse); err != nil {
		// a concurrent insert won the race past the existence check
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, &models.SingleUseViolationError{BowlerID: bowler.ID, ItemID: item.ID}
		}
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	return p, nil
}

// MarkPaid transitions an unpaid purchase to paid. It fails with
// AlreadyTerminalError when the purchase is paid or voided, including when a
// concurrent actor got there first.
func (s *PurchaseService) MarkPaid(ctx context.Context, repo *store.Repo, p *models.Purchase, paidAt time.Time, externalPaymentID *int64) error {
	if _, err := s.guard(p, models.PurchasePaid); err != nil {
		return err
	}

	ok, err := repo.MarkPurchasePaid(ctx, p.ID, paidAt, externalPaymentID)
	if err != nil {
		return fmt.Errorf("failed to mark purchase %d paid: %w", p.ID, err)
	}
	if !ok {
		return s.refreshTerminal(ctx, repo, p)
	}

	p.PaidAt = &paidAt
	p.ExternalPaymentID = externalPaymentID
	util.PurchasesPaidTotal.Inc()
	return nil
}

// Void transitions an unpaid purchase to voided and appends the entry that
// offsets its original charge. It fails with AlreadyTerminalError under the
// same conditions as MarkPaid.
func (s *PurchaseService) Void(ctx context.Context, repo *store.Repo, p *models.Purchase, reason string) (*models.LedgerEntry, error) {
	if _, err := s.guard(p, models.PurchaseVoided); err != nil {
		return nil, err
	}

	item, err := repo.GetPurchasableItem(ctx, p.PurchasableItemID)
	if err != nil {
		return nil, err
	}

	voidedAt := s.now()
	ok, err := repo.VoidPurchase(ctx, p.ID, voidedAt, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to void purchase %d: %w", p.ID, err)
	}
	if !ok {
		return nil, s.refreshTerminal(ctx, repo, p)
	}

	rec := Credit(p.Amount, models.SourceVoid, item.Name)
	if item.IsDiscount() {
		rec = Debit(p.Amount, models.SourceVoid, item.Name)
	}
	rec.Notes = reason

	entry, err := s.ledger.Record(ctx, repo, p.BowlerID, rec)
	if err != nil {
		return nil, err
	}

	p.VoidedAt = &voidedAt
	p.VoidReason = &reason
	util.PurchasesVoidedTotal.Inc()
	return entry, nil
}

// MarkPaidManually is an administrator override: the purchase is marked paid
// and a manual credit is recorded, atomically.
func (s *PurchaseService) MarkPaidManually(ctx context.Context, purchaseID int64, identifier, notes string) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.MarkPaidManually")
	defer span.End()

	var purchase *models.Purchase
	err := s.store.WithTx(ctx, func(repo *store.Repo) error {
		p, err := repo.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if err := s.MarkPaid(ctx, repo, p, s.now(), nil); err != nil {
			return err
		}
		rec := Credit(p.Amount, models.SourceManual, identifier)
		rec.Notes = notes
		if _, err := s.ledger.Record(ctx, repo, p.BowlerID, rec); err != nil {
			return err
		}
		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Purchase marked paid manually",
		zap.Int64("purchase_id", purchaseID),
		zap.String("identifier", identifier))
	return purchase, nil
}

// PurchasesForBowler lists a bowler's purchases
func (s *PurchaseService) PurchasesForBowler(ctx context.Context, bowlerID int64) ([]models.Purchase, error) {
	if _, err := s.store.GetBowler(ctx, bowlerID); err != nil {
		return nil, err
	}
	return s.store.PurchasesForBowler(ctx, bowlerID)
}

// guard rejects any transition out of a terminal state
func (s *PurchaseService) guard(p *models.Purchase, target models.PurchaseState) (models.TransitionResult, error) {
	state := p.State()
	if state.IsTerminal() {
		return models.TransitionNoop, &models.AlreadyTerminalError{Kind: "purchase", ID: p.ID, State: string(state)}
	}
	return state.Transition(target)
}

// refreshTerminal reloads a purchase whose conditional update matched no
// row and reports the terminal state another actor left it in.
func (s *PurchaseService) refreshTerminal(ctx context.Context, repo *store.Repo, p *models.Purchase) error {
	current, err := repo.GetPurchase(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *current
	return &models.AlreadyTerminalError{Kind: "purchase", ID: p.ID, State: string(p.State())}
}
