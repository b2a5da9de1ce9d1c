package store

import (
	"context"

	"tournament-payments/internal/models"
)

// CreateLedgerEntry appends a ledger entry. There is no update or delete.
func (r *Repo) CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	e.CreatedAt = r.now()
	query := `
		INSERT INTO ledger_entries (bowler_id, debit, credit, source, identifier, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	return translate(r.get(ctx, &e.ID, query,
		e.BowlerID, e.Debit, e.Credit, e.Source, e.Identifier, e.Notes, e.CreatedAt))
}

// LedgerEntriesForBowler retrieves a bowler's entries in insertion order
func (r *Repo) LedgerEntriesForBowler(ctx context.Context, bowlerID int64) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.selectAll(ctx, &entries,
		"SELECT * FROM ledger_entries WHERE bowler_id = ? ORDER BY id", bowlerID)
	return entries, err
}
