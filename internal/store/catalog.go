package store

import (
	"context"
	"fmt"

	"tournament-payments/internal/models"
)

// CreatePurchasableItem adds an item to a tournament's catalog
func (r *Repo) CreatePurchasableItem(ctx context.Context, item *models.PurchasableItem) error {
	item.CreatedAt = r.now()
	if item.Configuration == nil {
		item.Configuration = models.Configuration{}
	}
	query := `
		INSERT INTO purchasable_items
			(tournament_id, identifier, name, category, determination, refinement, value, configuration, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := r.get(ctx, &item.ID, query,
		item.TournamentID, item.Identifier, item.Name, item.Category, item.Determination,
		item.Refinement, item.Value, item.Configuration, item.Enabled, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchasable item: %w", translate(err))
	}
	return nil
}

// GetPurchasableItem retrieves an item by ID
func (r *Repo) GetPurchasableItem(ctx context.Context, id int64) (*models.PurchasableItem, error) {
	var item models.PurchasableItem
	err := r.get(ctx, &item, "SELECT * FROM purchasable_items WHERE id = ?", id)
	if isNoRows(err) {
		return nil, models.NotFound("purchasable_item", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// EnabledLedgerItems returns a tournament's enabled ledger items of one determination
func (r *Repo) EnabledLedgerItems(ctx context.Context, tournamentID int64, determination string) ([]models.PurchasableItem, error) {
	var items []models.PurchasableItem
	err := r.selectAll(ctx, &items, `
		SELECT * FROM purchasable_items
		WHERE tournament_id = ? AND category = ? AND determination = ? AND enabled = ?
		ORDER BY id`,
		tournamentID, models.CategoryLedger, determination, true)
	return items, err
}

// UpdateItemConfiguration replaces the value and configuration of an item
func (r *Repo) UpdateItemConfiguration(ctx context.Context, item *models.PurchasableItem) error {
	n, err := r.exec(ctx,
		"UPDATE purchasable_items SET value = ?, configuration = ?, enabled = ? WHERE id = ?",
		item.Value, item.Configuration, item.Enabled, item.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NotFound("purchasable_item", item.ID)
	}
	return nil
}

// CreateStripeProduct records the provider price/product pair for an item
func (r *Repo) CreateStripeProduct(ctx context.Context, sp *models.StripeProduct) error {
	sp.CreatedAt = r.now()
	query := `
		INSERT INTO stripe_products (purchasable_item_id, price_id, product_id, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	return translate(r.get(ctx, &sp.ID, query, sp.PurchasableItemID, sp.PriceID, sp.ProductID, sp.CreatedAt))
}

// GetItemByStripePrice resolves a provider price/product pair to its item
func (r *Repo) GetItemByStripePrice(ctx context.Context, priceID, productID string) (*models.PurchasableItem, error) {
	var item models.PurchasableItem
	err := r.get(ctx, &item, `
		SELECT pi.* FROM purchasable_items pi
		JOIN stripe_products sp ON sp.purchasable_item_id = pi.id
		WHERE sp.price_id = ? AND sp.product_id = ?`,
		priceID, productID)
	if isNoRows(err) {
		return nil, &models.NotFoundError{Kind: "stripe_product", Key: priceID + "/" + productID}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
