package service

import (
	"context"
	"fmt"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog manages purchasable items and their provider product mappings
type Catalog struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCatalog creates a new catalog service
func NewCatalog(store *store.Store) *Catalog {
	return &Catalog{
		store:  store,
		logger: util.Named("catalog"),
	}
}

// AddItem adds an item to a tournament. A tournament has at most one
// enabled ledger item per determination, unless the item is linked to an event.
func (c *Catalog) AddItem(ctx context.Context, item *models.PurchasableItem) error {
	if item.Value.IsNegative() {
		return fmt.Errorf("%w: item value %s", models.ErrInvalidAmount, item.Value)
	}
	if item.Identifier == "" {
		item.Identifier = uuid.New().String()
	}

	return c.store.WithTx(ctx, func(repo *store.Repo) error {
		if _, err := repo.GetTournament(ctx, item.TournamentID); err != nil {
			return err
		}
		if err := c.checkLedgerConflict(ctx, repo, item); err != nil {
			return err
		}
		if err := repo.CreatePurchasableItem(ctx, item); err != nil {
			return err
		}

		c.logger.Info("Purchasable item added",
			zap.Int64("tournament_id", item.TournamentID),
			zap.Int64("item_id", item.ID),
			zap.String("category", item.Category),
			zap.String("determination", item.Determination))
		return nil
	})
}

// UpdateItem changes an item's value, configuration or enabled flag
func (c *Catalog) UpdateItem(ctx context.Context, item *models.PurchasableItem) error {
	if item.Value.IsNegative() {
		return fmt.Errorf("%w: item value %s", models.ErrInvalidAmount, item.Value)
	}
	return c.store.WithTx(ctx, func(repo *store.Repo) error {
		if err := c.checkLedgerConflict(ctx, repo, item); err != nil {
			return err
		}
		return repo.UpdateItemConfiguration(ctx, item)
	})
}

func (c *Catalog) checkLedgerConflict(ctx context.Context, repo *store.Repo, item *models.PurchasableItem) error {
	if !item.IsLedgerItem() || !item.Enabled || item.Refinement == models.RefinementEventLinked {
		return nil
	}
	existing, err := repo.EnabledLedgerItems(ctx, item.TournamentID, item.Determination)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == item.ID || other.Refinement == models.RefinementEventLinked {
			continue
		}
		return fmt.Errorf("%w: tournament %d already has enabled %s item %d",
			models.ErrCatalogConflict, item.TournamentID, item.Determination, other.ID)
	}
	return nil
}

// LedgerItem returns the tournament's enabled ledger item of a determination
func (c *Catalog) LedgerItem(ctx context.Context, repo *store.Repo, tournamentID int64, determination string) (*models.PurchasableItem, error) {
	items, err := repo.EnabledLedgerItems(ctx, tournamentID, determination)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Refinement != models.RefinementEventLinked {
			return &items[i], nil
		}
	}
	return nil, &models.NotFoundError{Kind: determination + " item", Key: fmt.Sprintf("tournament %d", tournamentID)}
}

// MapProviderProduct records the provider price/product pair for an item
func (c *Catalog) MapProviderProduct(ctx context.Context, itemID int64, priceID, productID string) (*models.StripeProduct, error) {
	if _, err := c.store.GetPurchasableItem(ctx, itemID); err != nil {
		return nil, err
	}
	sp := &models.StripeProduct{
		PurchasableItemID: itemID,
		PriceID:           priceID,
		ProductID:         productID,
	}
	if err := c.store.CreateStripeProduct(ctx, sp); err != nil {
		return nil, fmt.Errorf("failed to map provider product: %w", err)
	}
	return sp, nil
}

// ItemForProviderPrice resolves a provider price/product pair to an item
func (c *Catalog) ItemForProviderPrice(ctx context.Context, repo *store.Repo, priceID, productID string) (*models.PurchasableItem, error) {
	return repo.GetItemByStripePrice(ctx, priceID, productID)
}
