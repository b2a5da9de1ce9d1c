package store

import (
	"context"
	"time"

	"tournament-payments/internal/models"
)

// CreatePurchase inserts an unpaid purchase. When singleUse is set the
// (bowler, item) pair is guarded by a unique index and a second insert fails
// with ErrUniqueViolation.
func (r *Repo) CreatePurchase(ctx context.Context, p *models.Purchase, singleUse bool) error {
	p.CreatedAt = r.now()
	var singleUseKey *int64
	if singleUse {
		key := p.PurchasableItemID
		singleUseKey = &key
	}
	query := `
		INSERT INTO purchases (bowler_id, purchasable_item_id, identifier, amount, single_use_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	return translate(r.get(ctx, &p.ID, query,
		p.BowlerID, p.PurchasableItemID, p.Identifier, p.Amount, singleUseKey, p.CreatedAt))
}

const purchaseColumns = `id, bowler_id, purchasable_item_id, identifier, amount, paid_at, voided_at, void_reason, external_payment_id, created_at`

const qualifiedPurchaseColumns = `p.id, p.bowler_id, p.purchasable_item_id, p.identifier, p.amount, p.paid_at, p.voided_at, p.void_reason, p.external_payment_id, p.created_at`

// GetPurchase retrieves a purchase by ID
func (r *Repo) GetPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	var p models.Purchase
	err := r.get(ctx, &p, "SELECT "+purchaseColumns+" FROM purchases WHERE id = ?", id)
	if isNoRows(err) {
		return nil, models.NotFound("purchase", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PurchasesForBowler retrieves all purchases of a bowler
func (r *Repo) PurchasesForBowler(ctx context.Context, bowlerID int64) ([]models.Purchase, error) {
	var ps []models.Purchase
	err := r.selectAll(ctx, &ps,
		"SELECT "+purchaseColumns+" FROM purchases WHERE bowler_id = ? ORDER BY id", bowlerID)
	return ps, err
}

// HasPurchase reports whether the bowler holds any purchase of the item, whatever its state
func (r *Repo) HasPurchase(ctx context.Context, bowlerID, itemID int64) (bool, error) {
	var exists bool
	err := r.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM purchases WHERE bowler_id = ? AND purchasable_item_id = ?)",
		bowlerID, itemID)
	return exists, err
}

// UnpaidPurchasesOfItem retrieves unpaid, unvoided purchases of an item across bowlers
func (r *Repo) UnpaidPurchasesOfItem(ctx context.Context, itemID int64) ([]models.Purchase, error) {
	var ps []models.Purchase
	err := r.selectAll(ctx, &ps, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE purchasable_item_id = ? AND paid_at IS NULL AND voided_at IS NULL
		ORDER BY id`, itemID)
	return ps, err
}

// UnpaidPurchasesForBowlerItem retrieves a bowler's unpaid, unvoided purchases of an item
func (r *Repo) UnpaidPurchasesForBowlerItem(ctx context.Context, bowlerID, itemID int64) ([]models.Purchase, error) {
	var ps []models.Purchase
	err := r.selectAll(ctx, &ps, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE bowler_id = ? AND purchasable_item_id = ? AND paid_at IS NULL AND voided_at IS NULL
		ORDER BY id`, bowlerID, itemID)
	return ps, err
}

// UnpaidLedgerPurchasesForBowler retrieves a bowler's unpaid, unvoided
// purchases of ledger items with the given determination
func (r *Repo) UnpaidLedgerPurchasesForBowler(ctx context.Context, bowlerID int64, determination string) ([]models.Purchase, error) {
	var ps []models.Purchase
	err := r.selectAll(ctx, &ps, `
		SELECT `+qualifiedPurchaseColumns+` FROM purchases p
		JOIN purchasable_items pi ON pi.id = p.purchasable_item_id
		WHERE p.bowler_id = ? AND pi.category = ? AND pi.determination = ?
			AND p.paid_at IS NULL AND p.voided_at IS NULL
		ORDER BY p.id`, bowlerID, models.CategoryLedger, determination)
	return ps, err
}

// BowlersOwingLateFee lists bowlers of a tournament holding an unpaid entry
// fee and no purchase of the late fee item. Each bowler appears once.
func (r *Repo) BowlersOwingLateFee(ctx context.Context, tournamentID, lateFeeItemID int64) ([]int64, error) {
	var ids []int64
	err := r.selectAll(ctx, &ids, `
		SELECT DISTINCT p.bowler_id FROM purchases p
		JOIN purchasable_items pi ON pi.id = p.purchasable_item_id
		JOIN bowlers b ON b.id = p.bowler_id
		WHERE b.tournament_id = ?
			AND pi.category = ? AND pi.determination = ?
			AND p.paid_at IS NULL AND p.voided_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM purchases lf
				WHERE lf.bowler_id = p.bowler_id AND lf.purchasable_item_id = ?
			)
		ORDER BY p.bowler_id`,
		tournamentID, models.CategoryLedger, models.DeterminationEntryFee, lateFeeItemID)
	return ids, err
}

// MarkPurchasePaid sets paid_at on an unpaid, unvoided purchase.
// It reports false when the purchase was already terminal.
func (r *Repo) MarkPurchasePaid(ctx context.Context, id int64, paidAt time.Time, externalPaymentID *int64) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE purchases SET paid_at = ?, external_payment_id = ?
		WHERE id = ? AND paid_at IS NULL AND voided_at IS NULL`,
		paidAt, externalPaymentID, id)
	return n == 1, err
}

// VoidPurchase sets voided_at on an unpaid, unvoided purchase.
// It reports false when the purchase was already terminal.
func (r *Repo) VoidPurchase(ctx context.Context, id int64, voidedAt time.Time, reason string) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE purchases SET voided_at = ?, void_reason = ?
		WHERE id = ? AND paid_at IS NULL AND voided_at IS NULL`,
		voidedAt, reason, id)
	return n == 1, err
}
