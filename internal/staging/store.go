package staging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerReader is the slice of the ledger service staging depends on.
type LedgerReader interface {
	Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error)
}

// Config controls row lifetime and accepted currencies.
type Config struct {
	TTL                 time.Duration
	SupportedCurrencies []string
}

// Store validates, deduplicates and groups staged rows.
type Store struct {
	repo       Repository
	ledgers    LedgerReader
	clock      clock.Clock
	ttl        time.Duration
	currencies map[string]bool
	newID      func() string
	log        zerolog.Logger
}

// NewStore creates a staging store.
func NewStore(repo Repository, ledgers LedgerReader, clk clock.Clock, cfg Config, log zerolog.Logger) *Store {
	currencies := make(map[string]bool, len(cfg.SupportedCurrencies))
	for _, c := range cfg.SupportedCurrencies {
		currencies[domain.NormalizeCurrency(c)] = true
	}
	return &Store{
		repo:       repo,
		ledgers:    ledgers,
		clock:      clk,
		ttl:        cfg.TTL,
		currencies: currencies,
		newID:      func() string { return uuid.New().String() },
		log:        log,
	}
}

// StageOptions carries optional metadata for a batch.
type StageOptions struct {
	SourceFile string
}

// StageResult is the new session plus every row with its outcome.
type StageResult struct {
	Session Session              `json:"session"`
	Rows    []*StagedTransaction `json:"rows"`
}

// Stage validates rows against the ledger and persists them as a new
// session. Row-level problems are recorded on the rows, not returned.
func (s *Store) Stage(ctx context.Context, ledgerID string, rows []ParsedRow, opts StageOptions) (*StageResult, error) {
	if len(rows) == 0 {
		return nil, domain.Invalid(domain.ReasonEmptyBatch, "no rows to stage")
	}
	l, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	known, err := s.knownSourceIDs(ctx, l, "")
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sessionID := s.newID()
	staged := make([]*StagedTransaction, 0, len(rows))
	for i, row := range rows {
		rowNumber := row.RowNumber
		if rowNumber == 0 {
			rowNumber = i + 1
		}
		staged = append(staged, &StagedTransaction{
			ID:                  s.newID(),
			SessionID:           sessionID,
			LedgerID:            ledgerID,
			RowNumber:           rowNumber,
			SourceTransactionID: sourceID(row),
			Name:                strings.TrimSpace(row.Name),
			Description:         strings.TrimSpace(row.Description),
			CategoryLabel:       strings.TrimSpace(row.CategoryLabel),
			Money:               domain.NewMoney(row.Amount.Abs(), row.Currency),
			Direction:           row.Direction,
			PaidAt:              row.PaidAt.UTC(),
			SourceFile:          opts.SourceFile,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.ttl),
		})
		staged[i].Validation = validateShape(row)
	}
	s.classify(l, staged, known)

	if err := s.repo.InsertRows(ctx, staged); err != nil {
		return nil, fmt.Errorf("Stage: inserting rows: %w", err)
	}

	session := summarize(staged)
	s.log.Info().
		Str("ledger_id", ledgerID).
		Str("session_id", sessionID).
		Int("total", session.Total).
		Int("valid", session.Valid).
		Int("invalid", session.Invalid).
		Int("duplicate", session.Duplicate).
		Str("status", string(session.Status)).
		Msg("Staged rows")
	return &StageResult{Session: session, Rows: staged}, nil
}

// validateShape checks required fields only. Rows that pass are provisionally
// VALID until classify looks at currency and duplicates.
func validateShape(row ParsedRow) Validation {
	var missing []string
	if strings.TrimSpace(row.Name) == "" {
		missing = append(missing, "name")
	}
	if row.PaidAt.IsZero() {
		missing = append(missing, "paid_at")
	}
	if strings.TrimSpace(row.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(row.CategoryLabel) == "" {
		missing = append(missing, "category_label")
	}
	if len(missing) > 0 {
		return Validation{Status: StatusInvalid, Reason: fmt.Sprintf("%s: %s", domain.ReasonMissingField, strings.Join(missing, ", "))}
	}
	if !row.Direction.Valid() {
		return Validation{Status: StatusInvalid, Reason: fmt.Sprintf("%s: %q", domain.ReasonInvalidDirection, row.Direction)}
	}
	if row.Amount.IsZero() {
		return Validation{Status: StatusInvalid, Reason: domain.ReasonInvalidAmount + ": amount must be non-zero"}
	}
	return Validation{Status: StatusValid}
}

// classify applies currency and duplicate checks, in row order, to rows that
// passed the shape check. known maps source ids to where they were seen.
func (s *Store) classify(l *ledger.Ledger, rows []*StagedTransaction, known map[string]string) {
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Validation.Status == StatusInvalid {
			continue
		}
		switch {
		case !s.currencies[r.Money.Currency]:
			r.Validation = Validation{Status: StatusInvalid, Reason: fmt.Sprintf("%s: %s", domain.ReasonUnsupportedCurrency, r.Money.Currency)}
			continue
		case r.Money.Currency != l.Currency:
			r.Validation = Validation{Status: StatusInvalid, Reason: fmt.Sprintf("%s: row %s, ledger %s", domain.ReasonCurrencyMismatch, r.Money.Currency, l.Currency)}
			continue
		}
		if first, dup := seen[r.SourceTransactionID]; dup {
			r.Validation = Validation{Status: StatusDuplicate, Reason: fmt.Sprintf("%s: same as row %d", domain.ReasonDuplicate, first)}
			continue
		}
		if where, dup := known[r.SourceTransactionID]; dup {
			r.Validation = Validation{Status: StatusDuplicate, Reason: fmt.Sprintf("%s: %s", domain.ReasonDuplicate, where)}
			continue
		}
		r.Validation = Validation{Status: StatusValid}
		seen[r.SourceTransactionID] = r.RowNumber
	}
}

// knownSourceIDs collects ids already committed to the ledger or staged as
// VALID in another live session.
func (s *Store) knownSourceIDs(ctx context.Context, l *ledger.Ledger, excludeSession string) (map[string]string, error) {
	known := make(map[string]string)
	for id := range l.SourceTransactionIDs() {
		known[id] = "already committed to ledger"
	}
	rows, err := s.repo.RowsByLedger(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("knownSourceIDs: %w", err)
	}
	now := s.clock.Now()
	for _, r := range rows {
		if r.SessionID == excludeSession || r.Expired(now) || r.Validation.Status != StatusValid {
			continue
		}
		if _, ok := known[r.SourceTransactionID]; !ok {
			known[r.SourceTransactionID] = "already staged in session " + r.SessionID
		}
	}
	return known, nil
}

func (s *Store) live(rows []*StagedTransaction) []*StagedTransaction {
	now := s.clock.Now()
	out := rows[:0:0]
	for _, r := range rows {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

// Rows returns the live rows of a session in row order. An unknown or
// expired session yields an empty slice.
func (s *Store) Rows(ctx context.Context, sessionID string) ([]*StagedTransaction, error) {
	rows, err := s.repo.RowsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Rows: %w", err)
	}
	return s.live(rows), nil
}

// GetSession returns the derived summary of a live session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	rows, err := s.Rows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("staging session", sessionID)
	}
	session := summarize(rows)
	return &session, nil
}

// ListSessions groups the ledger's live rows by session.
func (s *Store) ListSessions(ctx context.Context, ledgerID string) ([]Session, error) {
	if _, err := s.ledgers.Get(ctx, ledgerID); err != nil {
		return nil, err
	}
	rows, err := s.repo.RowsByLedger(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("ListSessions: %w", err)
	}

	bySession := make(map[string][]*StagedTransaction)
	for _, r := range s.live(rows) {
		bySession[r.SessionID] = append(bySession[r.SessionID], r)
	}
	sessions := make([]Session, 0, len(bySession))
	for _, group := range bySession {
		sessions = append(sessions, summarize(group))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// DeleteSession removes every row of a session. Zero is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	n, err := s.repo.DeleteSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("DeleteSession: %w", err)
	}
	s.log.Info().Str("session_id", sessionID).Int("deleted", n).Msg("Deleted staging session")
	return n, nil
}

// Revalidate re-runs every check for a session against the ledger's current
// state, e.g. after rows from another session were committed.
func (s *Store) Revalidate(ctx context.Context, sessionID string) (*Session, error) {
	rows, err := s.Rows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("staging session", sessionID)
	}
	l, err := s.ledgers.Get(ctx, rows[0].LedgerID)
	if err != nil {
		return nil, err
	}
	known, err := s.knownSourceIDs(ctx, l, sessionID)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		r.Validation = validateShape(ParsedRow{
			Name:          r.Name,
			CategoryLabel: r.CategoryLabel,
			Amount:        r.Money.Amount,
			Currency:      r.Money.Currency,
			Direction:     r.Direction,
			PaidAt:        r.PaidAt,
		})
	}
	s.classify(l, rows, known)

	if err := s.repo.UpdateRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("Revalidate: %w", err)
	}
	session := summarize(rows)
	return &session, nil
}

// PurgeExpired physically removes rows past their TTL.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("PurgeExpired: %w", err)
	}
	if n > 0 {
		s.log.Info().Int("deleted", n).Msg("Purged expired staging rows")
	}
	return n, nil
}

// WithIDGenerator overrides uuid ids. Used by tests for stable output.
func (s *Store) WithIDGenerator(fn func() string) *Store {
	s.newID = fn
	return s
}
