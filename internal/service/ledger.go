package service

import (
	"context"
	"fmt"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerRecord is one debit or credit to append for a bowler
type LedgerRecord struct {
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	Source     string
	Identifier string
	Notes      string
}

// Debit builds a debit record
func Debit(amount decimal.Decimal, source, identifier string) LedgerRecord {
	return LedgerRecord{Debit: amount, Source: source, Identifier: identifier}
}

// Credit builds a credit record
func Credit(amount decimal.Decimal, source, identifier string) LedgerRecord {
	return LedgerRecord{Credit: amount, Source: source, Identifier: identifier}
}

// Balance is derived from ledger entries on every read; nothing caches it
type Balance struct {
	AmountDue         decimal.Decimal
	AmountPaid        decimal.Decimal
	AmountOutstanding decimal.Decimal
}

// Ledger appends entries and derives bowler balances from them
type Ledger struct {
	store  *store.Store
	logger *zap.Logger
}

// NewLedger creates a new ledger service
func NewLedger(store *store.Store) *Ledger {
	return &Ledger{
		store:  store,
		logger: util.Named("ledger"),
	}
}

// Record appends one entry through repo, which may be transaction-bound.
// Amounts must be non-negative and at most one side may be non-zero.
func (l *Ledger) Record(ctx context.Context, repo *store.Repo, bowlerID int64, rec LedgerRecord) (*models.LedgerEntry, error) {
	if rec.Debit.IsNegative() || rec.Credit.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount (debit %s, credit %s)", models.ErrInvalidAmount, rec.Debit, rec.Credit)
	}
	if !rec.Debit.IsZero() && !rec.Credit.IsZero() {
		return nil, fmt.Errorf("%w: entry has both debit %s and credit %s", models.ErrInvalidAmount, rec.Debit, rec.Credit)
	}

	entry := &models.LedgerEntry{
		BowlerID:   bowlerID,
		Debit:      rec.Debit,
		Credit:     rec.Credit,
		Source:     rec.Source,
		Identifier: rec.Identifier,
		Notes:      rec.Notes,
	}
	if err := repo.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	side := "debit"
	if !rec.Credit.IsZero() {
		side = "credit"
	}
	util.LedgerEntriesTotal.WithLabelValues(rec.Source, side).Inc()

	l.logger.Debug("Ledger entry recorded",
		zap.Int64("bowler_id", bowlerID),
		zap.String("source", rec.Source),
		zap.String("debit", rec.Debit.String()),
		zap.String("credit", rec.Credit.String()),
		zap.String("identifier", rec.Identifier))
	return entry, nil
}

// Entries returns a bowler's ledger entries
func (l *Ledger) Entries(ctx context.Context, bowlerID int64) ([]models.LedgerEntry, error) {
	if _, err := l.store.GetBowler(ctx, bowlerID); err != nil {
		return nil, err
	}
	return l.store.LedgerEntriesForBowler(ctx, bowlerID)
}

// Balance derives a bowler's amounts due, paid and outstanding
func (l *Ledger) Balance(ctx context.Context, bowlerID int64) (*Balance, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Balance")
	defer span.End()

	entries, err := l.Entries(ctx, bowlerID)
	if err != nil {
		return nil, err
	}
	b := Summarize(entries)
	return &b, nil
}

// AmountDue is sum(debits) - sum(credits)
func (l *Ledger) AmountDue(ctx context.Context, bowlerID int64) (decimal.Decimal, error) {
	b, err := l.Balance(ctx, bowlerID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AmountDue, nil
}

// AmountPaid is the sum of credits received through the payment provider
func (l *Ledger) AmountPaid(ctx context.Context, bowlerID int64) (decimal.Decimal, error) {
	b, err := l.Balance(ctx, bowlerID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AmountPaid, nil
}

// AmountOutstanding is AmountDue floored at zero
func (l *Ledger) AmountOutstanding(ctx context.Context, bowlerID int64) (decimal.Decimal, error) {
	b, err := l.Balance(ctx, bowlerID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AmountOutstanding, nil
}

// Summarize sums ledger entries into a balance
func Summarize(entries []models.LedgerEntry) Balance {
	debits := decimal.Zero
	credits := decimal.Zero
	paid := decimal.Zero
	for _, e := range entries {
		debits = debits.Add(e.Debit)
		credits = credits.Add(e.Credit)
		if e.Source == models.SourceStripe {
			paid = paid.Add(e.Credit)
		}
	}

	due := debits.Sub(credits)
	outstanding := due
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	return Balance{AmountDue: due, AmountPaid: paid, AmountOutstanding: outstanding}
}
