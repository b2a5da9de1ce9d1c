package store

import (
	"context"
	"fmt"

	"tournament-payments/internal/models"
)

// CreateTournament creates a new tournament
func (r *Repo) CreateTournament(ctx context.Context, t *models.Tournament) error {
	t.CreatedAt = r.now()
	query := `
		INSERT INTO tournaments (identifier, name, stripe_account_id, automatic_late_fees, automatic_discount_voids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	return translate(r.get(ctx, &t.ID, query,
		t.Identifier, t.Name, t.StripeAccountID, t.AutomaticLateFees, t.AutomaticDiscountVoids, t.CreatedAt))
}

// GetTournament retrieves a tournament by ID
func (r *Repo) GetTournament(ctx context.Context, id int64) (*models.Tournament, error) {
	var t models.Tournament
	err := r.get(ctx, &t, "SELECT * FROM tournaments WHERE id = ?", id)
	if isNoRows(err) {
		return nil, models.NotFound("tournament", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TournamentsWithAutomaticLateFees lists tournaments opted into automatic late fees
func (r *Repo) TournamentsWithAutomaticLateFees(ctx context.Context) ([]models.Tournament, error) {
	var ts []models.Tournament
	err := r.selectAll(ctx, &ts, "SELECT * FROM tournaments WHERE automatic_late_fees = ? ORDER BY id", true)
	return ts, err
}

// TournamentsWithAutomaticDiscountVoids lists tournaments opted into automatic discount voids
func (r *Repo) TournamentsWithAutomaticDiscountVoids(ctx context.Context) ([]models.Tournament, error) {
	var ts []models.Tournament
	err := r.selectAll(ctx, &ts, "SELECT * FROM tournaments WHERE automatic_discount_voids = ? ORDER BY id", true)
	return ts, err
}

// CreateBowler registers a bowler
func (r *Repo) CreateBowler(ctx context.Context, b *models.Bowler) error {
	b.CreatedAt = r.now()
	query := `
		INSERT INTO bowlers (tournament_id, identifier, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`

	if err := r.get(ctx, &b.ID, query, b.TournamentID, b.Identifier, b.Name, b.Email, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to create bowler: %w", translate(err))
	}
	return nil
}

// GetBowler retrieves a bowler by ID
func (r *Repo) GetBowler(ctx context.Context, id int64) (*models.Bowler, error) {
	var b models.Bowler
	err := r.get(ctx, &b, "SELECT * FROM bowlers WHERE id = ?", id)
	if isNoRows(err) {
		return nil, models.NotFound("bowler", id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
