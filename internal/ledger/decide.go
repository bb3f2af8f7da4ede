package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Env carries everything a decider may need from outside the aggregate.
type Env struct {
	Now   time.Time
	NewID func() string
}

// Decider validates cmd against state and returns the resulting events.
// state is nil only for CreateLedger.
type Decider func(state *Ledger, cmd Command, env Env) ([]Event, error)

// HandlerTable maps each command type to exactly one decider.
type HandlerTable struct {
	deciders map[CommandType]Decider
}

// NewHandlerTable returns a table with every ledger command registered.
func NewHandlerTable() *HandlerTable {
	t := &HandlerTable{deciders: make(map[CommandType]Decider)}
	t.Register(CmdCreateLedger, typed(decideCreateLedger))
	t.Register(CmdCreateCategory, typed(decideCreateCategory))
	t.Register(CmdImportHistoricalEntry, typed(decideImportHistoricalEntry))
	t.Register(CmdAttestHistoricalImport, typed(decideAttestHistoricalImport))
	t.Register(CmdActivateLedger, typed(decideActivateLedger))
	t.Register(CmdRollbackImport, typed(decideRollbackImport))
	t.Register(CmdRevertImportJob, typed(decideRevertImportJob))
	t.Register(CmdAddEntry, typed(decideAddEntry))
	t.Register(CmdRolloverMonth, typed(decideRolloverMonth))
	return t
}

// Register binds a decider. Registering the same type twice panics since
// it is a wiring mistake.
func (t *HandlerTable) Register(ct CommandType, d Decider) {
	if _, exists := t.deciders[ct]; exists {
		panic(fmt.Sprintf("ledger: decider for %s registered twice", ct))
	}
	t.deciders[ct] = d
}

// Decide dispatches cmd to its registered decider.
func (t *HandlerTable) Decide(state *Ledger, cmd Command, env Env) ([]Event, error) {
	d, ok := t.deciders[cmd.CommandType()]
	if !ok {
		return nil, domain.Invalid(domain.ReasonUnknownCommand, "no handler registered for %s", cmd.CommandType())
	}
	if state == nil && cmd.CommandType() != CmdCreateLedger {
		return nil, domain.InvalidState(string(cmd.CommandType()), "MISSING", "ledger does not exist")
	}
	return d(state, cmd, env)
}

func typed[C Command](fn func(*Ledger, C, Env) ([]Event, error)) Decider {
	return func(state *Ledger, cmd Command, env Env) ([]Event, error) {
		c, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("ledger: %s decider received %T", cmd.CommandType(), cmd)
		}
		return fn(state, c, env)
	}
}

func requireStatus(state *Ledger, op CommandType, want Status) error {
	if state.Status != want {
		return domain.InvalidState(string(op), string(state.Status), fmt.Sprintf("requires %s", want))
	}
	return nil
}

func decideCreateLedger(state *Ledger, cmd CreateLedger, env Env) ([]Event, error) {
	if state != nil {
		return nil, domain.InvalidState(string(CmdCreateLedger), string(state.Status), "ledger already exists")
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, domain.Invalid(domain.ReasonMissingField, "ledger name is required")
	}
	currency := domain.NormalizeCurrency(cmd.Currency)
	if len(currency) != 3 {
		return nil, domain.Invalid(domain.ReasonUnsupportedCurrency, "currency %q is not an ISO code", cmd.Currency)
	}
	if cmd.StartPeriod.IsZero() || cmd.ActivePeriod.IsZero() {
		return nil, domain.Invalid(domain.ReasonInvalidPeriod, "start and active periods are required")
	}
	if cmd.StartPeriod.After(cmd.ActivePeriod) {
		return nil, domain.Invalid(domain.ReasonInvalidPeriod, "start period %s is after active period %s", cmd.StartPeriod, cmd.ActivePeriod)
	}
	id := cmd.LedgerID
	if id == "" {
		id = env.NewID()
	}
	return []Event{LedgerCreated{
		LedgerID:       id,
		OwnerID:        cmd.OwnerID,
		Name:           strings.TrimSpace(cmd.Name),
		Description:    cmd.Description,
		Currency:       currency,
		BankAccount:    cmd.BankAccountNumber,
		InitialBalance: domain.NewMoney(cmd.InitialBalance, currency),
		StartPeriod:    cmd.StartPeriod,
		ActivePeriod:   cmd.ActivePeriod,
		InflowRootID:   env.NewID(),
		OutflowRootID:  env.NewID(),
		CreatedAt:      env.Now,
	}}, nil
}

func decideCreateCategory(state *Ledger, cmd CreateCategory, env Env) ([]Event, error) {
	if !cmd.Direction.Valid() {
		return nil, domain.Invalid(domain.ReasonInvalidDirection, "unknown direction %q", cmd.Direction)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, domain.Invalid(domain.ReasonMissingField, "category name is required")
	}
	tree := state.Tree(cmd.Direction)
	if cmd.ParentID != "" {
		parent, ok := tree.Get(cmd.ParentID)
		if !ok {
			return nil, domain.Invalid(domain.ReasonCategoryNotFound, "parent category %s not found in %s tree", cmd.ParentID, cmd.Direction)
		}
		if parent.Reserved || parent.Archived {
			return nil, domain.Invalid(domain.ReasonReservedCategory, "cannot nest under %q", parent.Name)
		}
	} else if strings.EqualFold(name, UncategorizedName) {
		return nil, domain.Invalid(domain.ReasonReservedCategory, "%q is reserved", UncategorizedName)
	}
	if existing, ok := tree.Child(cmd.ParentID, name); ok {
		return nil, domain.Invalid(domain.ReasonCategoryExists, "category %q already exists (%s)", name, existing.ID)
	}
	return []Event{CategoryCreated{
		CategoryID: env.NewID(),
		Direction:  cmd.Direction,
		Name:       name,
		ParentID:   cmd.ParentID,
		CreatedAt:  env.Now,
	}}, nil
}

// validateEntry checks the fields shared by historical and regular entries.
func validateEntry(state *Ledger, name string, money domain.Money, direction domain.FlowDirection, categoryID string, paid time.Time) error {
	if strings.TrimSpace(name) == "" {
		return domain.Invalid(domain.ReasonMissingField, "entry name is required")
	}
	if paid.IsZero() {
		return domain.Invalid(domain.ReasonMissingField, "paid date is required")
	}
	if !money.Amount.IsPositive() {
		return domain.Invalid(domain.ReasonInvalidAmount, "amount must be positive, got %s", money.Amount)
	}
	if domain.NormalizeCurrency(money.Currency) != state.Currency {
		return domain.Invalid(domain.ReasonCurrencyMismatch, "entry currency %s does not match ledger currency %s", money.Currency, state.Currency)
	}
	if !direction.Valid() {
		return domain.Invalid(domain.ReasonInvalidDirection, "unknown direction %q", direction)
	}
	if _, ok := state.Tree(direction).Get(categoryID); !ok {
		return domain.Invalid(domain.ReasonCategoryNotFound, "category %s not found in %s tree", categoryID, direction)
	}
	return nil
}

// checkHistoricalDate enforces paid ∈ [startPeriod, activePeriod) and
// paid ≤ now, each with its own reason.
func checkHistoricalDate(state *Ledger, paid, now time.Time) error {
	if paid.After(now) {
		return domain.Invalid(domain.ReasonPaidDateInFuture, "paid date %s is after %s", paid.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	month := domain.YearMonthOf(paid)
	if month.Before(state.StartPeriod) {
		return domain.Invalid(domain.ReasonPaidDateBeforeStartPeriod, "paid date %s is before start period %s", paid.Format("2006-01-02"), state.StartPeriod)
	}
	if !month.Before(state.ActivePeriod) {
		return domain.Invalid(domain.ReasonPaidDateNotBeforeActive, "paid date %s is not before active period %s", paid.Format("2006-01-02"), state.ActivePeriod)
	}
	return nil
}

func decideImportHistoricalEntry(state *Ledger, cmd ImportHistoricalEntry, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdImportHistoricalEntry, StatusSetup); err != nil {
		return nil, err
	}
	if err := validateEntry(state, cmd.Name, cmd.Money, cmd.Direction, cmd.CategoryID, cmd.PaidDate); err != nil {
		return nil, err
	}
	if err := checkHistoricalDate(state, cmd.PaidDate, env.Now); err != nil {
		return nil, err
	}
	if state.HasSourceTransaction(cmd.SourceTransactionID) {
		return nil, domain.Invalid(domain.ReasonDuplicateSourceTransaction, "source transaction %s already committed", cmd.SourceTransactionID)
	}
	id := cmd.EntryID
	if id == "" {
		id = env.NewID()
	}
	if _, exists := state.Entries[id]; exists {
		return nil, domain.Invalid(domain.ReasonDuplicate, "entry %s already exists", id)
	}
	return []Event{HistoricalEntryImported{Entry: Entry{
		ID:                  id,
		Kind:                EntryHistorical,
		CategoryID:          cmd.CategoryID,
		Name:                strings.TrimSpace(cmd.Name),
		Description:         cmd.Description,
		Money:               domain.NewMoney(cmd.Money.Amount, cmd.Money.Currency),
		Direction:           cmd.Direction,
		PaidDate:            cmd.PaidDate.UTC(),
		ImportJobID:         cmd.ImportJobID,
		SourceTransactionID: cmd.SourceTransactionID,
		CreatedAt:           env.Now,
	}}}, nil
}

// reconcile returns confirmed, calculated and confirmed-calculated.
func reconcile(state *Ledger, confirmed decimal.Decimal) (domain.Money, domain.Money, domain.Money) {
	c := domain.NewMoney(confirmed, state.Currency)
	calc := state.CalculatedBalance()
	return c, calc, c.Sub(calc)
}

func decideAttestHistoricalImport(state *Ledger, cmd AttestHistoricalImport, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdAttestHistoricalImport, StatusSetup); err != nil {
		return nil, err
	}
	confirmed, calculated, diff := reconcile(state, cmd.ConfirmedBalance)
	if !diff.IsZero() && !cmd.Force && !cmd.CreateAdjustment {
		return nil, &domain.ReconciliationError{Confirmed: confirmed, Calculated: calculated, Difference: diff}
	}
	ev := HistoricalImportAttested{
		ConfirmedBalance:  confirmed,
		CalculatedBalance: calculated,
		Difference:        diff,
		Forced:            cmd.Force && !diff.IsZero() && !cmd.CreateAdjustment,
		AttestedAt:        env.Now,
	}
	if cmd.CreateAdjustment && !diff.IsZero() {
		dir := domain.Inflow
		if diff.Amount.IsNegative() {
			dir = domain.Outflow
		}
		ev.AdjustmentEntryID = env.NewID()
		ev.AdjustmentDirection = dir
		ev.AdjustmentCategoryID = state.Tree(dir).Uncategorized().ID
		ev.AdjustmentPaidDate = state.ActivePeriod.Start().AddDate(0, 0, -1)
	}
	return []Event{ev}, nil
}

func decideActivateLedger(state *Ledger, cmd ActivateLedger, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdActivateLedger, StatusSetup); err != nil {
		return nil, err
	}
	confirmed, calculated, diff := reconcile(state, cmd.ConfirmedBalance)
	if !diff.IsZero() && !cmd.Force {
		return nil, &domain.ReconciliationError{Confirmed: confirmed, Calculated: calculated, Difference: diff}
	}
	return []Event{LedgerActivated{
		ConfirmedBalance:  confirmed,
		CalculatedBalance: calculated,
		Difference:        diff,
		Forced:            !diff.IsZero(),
		ActivatedAt:       env.Now,
	}}, nil
}

func decideRollbackImport(state *Ledger, cmd RollbackImport, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdRollbackImport, StatusSetup); err != nil {
		return nil, err
	}
	ev := ImportRolledBack{
		DeletedEntries:   state.EntryCount(),
		DeleteCategories: cmd.DeleteCategories,
		RolledBackAt:     env.Now,
	}
	if cmd.DeleteCategories {
		ev.DeletedCategories = state.CategoryCount()
	}
	return []Event{ev}, nil
}

func decideRevertImportJob(state *Ledger, cmd RevertImportJob, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdRevertImportJob, StatusSetup); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.ImportJobID) == "" {
		return nil, domain.Invalid(domain.ReasonMissingField, "import job id is required")
	}

	used := make(map[string]bool)
	var entryIDs []string
	for id, e := range state.Entries {
		if e.ImportJobID == cmd.ImportJobID {
			entryIDs = append(entryIDs, id)
			continue
		}
		used[e.CategoryID] = true
	}
	sort.Strings(entryIDs)

	// Peel removable categories leaf first until nothing changes.
	candidates := make(map[string]*Category)
	for _, id := range cmd.CategoryIDs {
		for _, dir := range domain.Directions {
			if c, ok := state.Tree(dir).Get(id); ok && !c.Reserved && !used[id] {
				candidates[id] = c
			}
		}
	}
	removed := make(map[string]bool)
	var categoryIDs []string
	for changed := true; changed; {
		changed = false
		ids := make([]string, 0, len(candidates))
		for id := range candidates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if childrenRemoved(candidates[id], removed) {
				removed[id] = true
				categoryIDs = append(categoryIDs, id)
				delete(candidates, id)
				changed = true
			}
		}
	}

	if len(entryIDs) == 0 && len(categoryIDs) == 0 {
		return nil, nil
	}
	return []Event{ImportJobReverted{
		ImportJobID:        cmd.ImportJobID,
		EntryIDs:           entryIDs,
		CategoryIDs:        categoryIDs,
		AttestationCleared: state.Attestation != nil && len(entryIDs) > 0,
		RevertedAt:         env.Now,
	}}, nil
}

func childrenRemoved(c *Category, removed map[string]bool) bool {
	for _, id := range c.Children {
		if !removed[id] {
			return false
		}
	}
	return true
}

func decideAddEntry(state *Ledger, cmd AddEntry, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdAddEntry, StatusOpen); err != nil {
		return nil, err
	}
	if err := validateEntry(state, cmd.Name, cmd.Money, cmd.Direction, cmd.CategoryID, cmd.PaidDate); err != nil {
		return nil, err
	}
	return []Event{EntryAdded{Entry: Entry{
		ID:          env.NewID(),
		Kind:        EntryRegular,
		CategoryID:  cmd.CategoryID,
		Name:        strings.TrimSpace(cmd.Name),
		Description: cmd.Description,
		Money:       domain.NewMoney(cmd.Money.Amount, cmd.Money.Currency),
		Direction:   cmd.Direction,
		PaidDate:    cmd.PaidDate.UTC(),
		CreatedAt:   env.Now,
	}}}, nil
}

func decideRolloverMonth(state *Ledger, _ RolloverMonth, env Env) ([]Event, error) {
	if err := requireStatus(state, CmdRolloverMonth, StatusOpen); err != nil {
		return nil, err
	}
	in, out := decimal.Zero, decimal.Zero
	for _, e := range state.Entries {
		if !state.ActivePeriod.Contains(e.PaidDate) {
			continue
		}
		if e.Direction == domain.Inflow {
			in = in.Add(e.Money.Amount)
		} else {
			out = out.Add(e.Money.Amount)
		}
	}
	return []Event{MonthRolledOver{
		Period:         state.ActivePeriod,
		NextPeriod:     state.ActivePeriod.Next(),
		ClosingBalance: state.BankAccount.Balance,
		Inflow:         domain.NewMoney(in, state.Currency),
		Outflow:        domain.NewMoney(out, state.Currency),
		ClosedAt:       env.Now,
	}}, nil
}
