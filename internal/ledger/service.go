package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists ledger snapshots together with their event log.
type Repository interface {
	// Get returns the latest snapshot or a domain NotFoundError.
	Get(ctx context.Context, ledgerID string) (*Ledger, error)

	// Save stores the snapshot and appends records in one write.
	Save(ctx context.Context, snapshot *Ledger, records []Record) error

	// Events returns the ledger's event log in sequence order.
	Events(ctx context.Context, ledgerID string) ([]Record, error)
}

// Service is the persistence shell around the pure core: load snapshot,
// decide, apply, save snapshot plus new events, publish.
type Service struct {
	repo      Repository
	handlers  *HandlerTable
	clock     clock.Clock
	newID     func() string
	publisher events.Publisher
	log       zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithIDGenerator overrides uuid-based ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithPublisher sets where ledger events are emitted.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a ledger service.
func NewService(repo Repository, clk clock.Clock, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		handlers: NewHandlerTable(),
		clock:    clk,
		newID:    func() string { return uuid.New().String() },
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) env() Env {
	return Env{Now: s.clock.Now(), NewID: s.newID}
}

// Create opens a new ledger in SETUP.
func (s *Service) Create(ctx context.Context, cmd CreateLedger) (*Ledger, error) {
	uow := &UnitOfWork{handlers: s.handlers, env: s.env()}
	if _, err := uow.Execute(cmd); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	s.log.Info().Str("ledger_id", uow.state.ID).Str("currency", uow.state.Currency).Msg("Ledger created")
	return uow.state, nil
}

// Get returns the current snapshot.
func (s *Service) Get(ctx context.Context, ledgerID string) (*Ledger, error) {
	return s.repo.Get(ctx, ledgerID)
}

// Events returns the ledger's event log.
func (s *Service) Events(ctx context.Context, ledgerID string) ([]Record, error) {
	if _, err := s.repo.Get(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, ledgerID)
}

// Execute runs a single command against a ledger.
func (s *Service) Execute(ctx context.Context, ledgerID string, cmd Command) (*Ledger, []Event, error) {
	var produced []Event
	l, err := s.Update(ctx, ledgerID, func(uow *UnitOfWork) error {
		evs, err := uow.Execute(cmd)
		produced = evs
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return l, produced, nil
}

// Update loads the ledger, lets fn run any number of commands against a
// working copy, then persists everything with one save. If fn returns an
// error nothing is saved.
func (s *Service) Update(ctx context.Context, ledgerID string, fn func(uow *UnitOfWork) error) (*Ledger, error) {
	current, err := s.repo.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	uow := &UnitOfWork{state: current, handlers: s.handlers, env: s.env()}
	if err := fn(uow); err != nil {
		s.log.Warn().Err(err).Str("ledger_id", ledgerID).Msg("Ledger update rejected")
		return nil, err
	}
	if len(uow.pending) == 0 {
		return uow.state, nil
	}
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	return uow.state, nil
}

func (s *Service) commit(ctx context.Context, uow *UnitOfWork) error {
	if err := s.repo.Save(ctx, uow.state, uow.pending); err != nil {
		return fmt.Errorf("Service.commit: saving ledger %s: %w", uow.state.ID, err)
	}
	for _, r := range uow.pending {
		events.Emit(ctx, s.publisher, s.log, "ledger."+string(r.Type), r)
	}
	return nil
}

// UnitOfWork accumulates commands against an in-memory working copy.
type UnitOfWork struct {
	state    *Ledger
	pending  []Record
	handlers *HandlerTable
	env      Env
}

// State is the working copy including every accepted command so far.
// Callers must not mutate it.
func (u *UnitOfWork) State() *Ledger {
	return u.state
}

// Execute decides and applies cmd. A rejected command leaves the working
// copy exactly as it was.
func (u *UnitOfWork) Execute(cmd Command) ([]Event, error) {
	evs, err := u.handlers.Decide(u.state, cmd, u.env)
	if err != nil {
		return nil, err
	}
	next := u.state
	records := make([]Record, 0, len(evs))
	for _, ev := range evs {
		if next, err = Apply(next, ev); err != nil {
			return nil, err
		}
		r, err := EncodeEvent(next.ID, next.Version, ev, u.env.Now)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	u.state = next
	u.pending = append(u.pending, records...)
	return evs, nil
}

// Savepoint marks a point a unit of work can return to.
type Savepoint struct {
	state   *Ledger
	pending int
}

// Savepoint captures the working copy and the pending events so far.
func (u *UnitOfWork) Savepoint() Savepoint {
	return Savepoint{state: u.state, pending: len(u.pending)}
}

// RollbackTo discards every command accepted after sp was taken.
func (u *UnitOfWork) RollbackTo(sp Savepoint) {
	u.state = sp.state
	u.pending = u.pending[:sp.pending]
}

// Pending returns the number of events waiting to be saved.
func (u *UnitOfWork) Pending() int {
	return len(u.pending)
}
