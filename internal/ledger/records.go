package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted envelope of one event in a ledger's log.
type Record struct {
	LedgerID   string          `json:"ledger_id"`
	Sequence   int64           `json:"sequence"`
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// eventFactories is the explicit decode table for the event log.
var eventFactories = map[EventType]func() Event{
	EvtLedgerCreated:            func() Event { return &LedgerCreated{} },
	EvtCategoryCreated:          func() Event { return &CategoryCreated{} },
	EvtHistoricalEntryImported:  func() Event { return &HistoricalEntryImported{} },
	EvtHistoricalImportAttested: func() Event { return &HistoricalImportAttested{} },
	EvtLedgerActivated:          func() Event { return &LedgerActivated{} },
	EvtImportRolledBack:         func() Event { return &ImportRolledBack{} },
	EvtImportJobReverted:        func() Event { return &ImportJobReverted{} },
	EvtEntryAdded:               func() Event { return &EntryAdded{} },
	EvtMonthRolledOver:          func() Event { return &MonthRolledOver{} },
}

// EncodeEvent wraps ev in a Record.
func EncodeEvent(ledgerID string, seq int64, ev Event, at time.Time) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("EncodeEvent: %s: %w", ev.EventType(), err)
	}
	return Record{
		LedgerID:   ledgerID,
		Sequence:   seq,
		Type:       ev.EventType(),
		OccurredAt: at,
		Payload:    payload,
	}, nil
}

// DecodeEvent turns a Record back into a value event.
func DecodeEvent(r Record) (Event, error) {
	factory, ok := eventFactories[r.Type]
	if !ok {
		return nil, fmt.Errorf("DecodeEvent: unknown event type %q", r.Type)
	}
	ptr := factory()
	if err := json.Unmarshal(r.Payload, ptr); err != nil {
		return nil, fmt.Errorf("DecodeEvent: %s: %w", r.Type, err)
	}
	return deref(ptr), nil
}

// deref converts the decoded pointer into the value form Apply switches on.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *LedgerCreated:
		return *e
	case *CategoryCreated:
		return *e
	case *HistoricalEntryImported:
		return *e
	case *HistoricalImportAttested:
		return *e
	case *LedgerActivated:
		return *e
	case *ImportRolledBack:
		return *e
	case *ImportJobReverted:
		return *e
	case *EntryAdded:
		return *e
	case *MonthRolledOver:
		return *e
	}
	return ev
}

// Replay rebuilds a ledger from its ordered event log.
func Replay(records []Record) (*Ledger, error) {
	var state *Ledger
	for _, r := range records {
		ev, err := DecodeEvent(r)
		if err != nil {
			return nil, err
		}
		if state, err = Apply(state, ev); err != nil {
			return nil, fmt.Errorf("Replay: sequence %d: %w", r.Sequence, err)
		}
	}
	return state, nil
}
