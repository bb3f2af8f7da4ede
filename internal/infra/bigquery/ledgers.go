package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
)

// LedgerSnapshotRow is the latest state of one ledger.
type LedgerSnapshotRow struct {
	LedgerID  string    `bigquery:"ledger_id"`  // REQUIRED
	Version   int64     `bigquery:"version"`    // REQUIRED
	Status    string    `bigquery:"status"`     // REQUIRED
	Currency  string    `bigquery:"currency"`   // REQUIRED
	Snapshot  string    `bigquery:"snapshot"`   // REQUIRED, JSON
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

// LedgerEventRow is one entry of a ledger's append-only event log.
type LedgerEventRow struct {
	LedgerID   string    `bigquery:"ledger_id"`   // REQUIRED
	Sequence   int64     `bigquery:"sequence"`    // REQUIRED
	EventType  string    `bigquery:"event_type"`  // REQUIRED
	OccurredTS time.Time `bigquery:"occurred_ts"` // REQUIRED
	Payload    string    `bigquery:"payload"`     // REQUIRED, JSON
}

func toSnapshotRow(l *ledger.Ledger) (LedgerSnapshotRow, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return LedgerSnapshotRow{}, fmt.Errorf("encode ledger %s: %w", l.ID, err)
	}
	return LedgerSnapshotRow{
		LedgerID:  l.ID,
		Version:   l.Version,
		Status:    string(l.Status),
		Currency:  l.Currency,
		Snapshot:  string(data),
		UpdatedTS: l.ModifiedAt,
	}, nil
}

func fromSnapshotRow(row LedgerSnapshotRow) (*ledger.Ledger, error) {
	var l ledger.Ledger
	if err := json.Unmarshal([]byte(row.Snapshot), &l); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", row.LedgerID, err)
	}
	return &l, nil
}

func toEventRow(r ledger.Record) LedgerEventRow {
	return LedgerEventRow{
		LedgerID:   r.LedgerID,
		Sequence:   r.Sequence,
		EventType:  string(r.Type),
		OccurredTS: r.OccurredAt,
		Payload:    string(r.Payload),
	}
}

func fromEventRow(row LedgerEventRow) ledger.Record {
	return ledger.Record{
		LedgerID:   row.LedgerID,
		Sequence:   row.Sequence,
		Type:       ledger.EventType(row.EventType),
		OccurredAt: row.OccurredTS,
		Payload:    json.RawMessage(row.Payload),
	}
}

// LedgerRepository implements ledger.Repository.
type LedgerRepository struct {
	conn *Conn
}

// NewLedgerRepository creates a LedgerRepository on conn.
func NewLedgerRepository(conn *Conn) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Get returns the latest snapshot.
func (r *LedgerRepository) Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error) {
	rows, err := query[LedgerSnapshotRow](ctx, r.conn, "GetLedger", fmt.Sprintf(`
		SELECT ledger_id, version, status, currency, snapshot, updated_ts
		FROM %s
		WHERE ledger_id = @ledger_id
		LIMIT 1
	`, r.conn.table(ledgerSnapshotsTable)), []bigquery.QueryParameter{
		{Name: "ledger_id", Value: ledgerID},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("ledger", ledgerID)
	}
	return fromSnapshotRow(rows[0])
}

// Save upserts the snapshot and appends records in one multi-statement
// transaction.
func (r *LedgerRepository) Save(ctx context.Context, snapshot *ledger.Ledger, records []ledger.Record) error {
	if snapshot == nil || snapshot.ID == "" {
		return fmt.Errorf("SaveLedger: ledger ID is required")
	}
	row, err := toSnapshotRow(snapshot)
	if err != nil {
		return fmt.Errorf("SaveLedger: %w", err)
	}
	events := make([]LedgerEventRow, 0, len(records))
	for _, rec := range records {
		events = append(events, toEventRow(rec))
	}

	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;

		MERGE %[1]s T
		USING (SELECT @ledger_id AS ledger_id) S
		ON T.ledger_id = S.ledger_id
		WHEN MATCHED THEN
		  UPDATE SET version = @version, status = @status, currency = @currency,
		             snapshot = @snapshot, updated_ts = @updated_ts
		WHEN NOT MATCHED THEN
		  INSERT (ledger_id, version, status, currency, snapshot, updated_ts)
		  VALUES (@ledger_id, @version, @status, @currency, @snapshot, @updated_ts);

		INSERT INTO %[2]s (ledger_id, sequence, event_type, occurred_ts, payload)
		SELECT e.ledger_id, e.sequence, e.event_type, e.occurred_ts, e.payload
		FROM UNNEST(@events) AS e;

		COMMIT TRANSACTION;
	`, r.conn.table(ledgerSnapshotsTable), r.conn.table(ledgerEventsTable))

	_, err = r.conn.exec(ctx, "SaveLedger", sql, []bigquery.QueryParameter{
		{Name: "ledger_id", Value: row.LedgerID},
		{Name: "version", Value: row.Version},
		{Name: "status", Value: row.Status},
		{Name: "currency", Value: row.Currency},
		{Name: "snapshot", Value: row.Snapshot},
		{Name: "updated_ts", Value: row.UpdatedTS},
		{Name: "events", Value: events},
	})
	return err
}

// Events returns the ledger's event log in sequence order.
func (r *LedgerRepository) Events(ctx context.Context, ledgerID string) ([]ledger.Record, error) {
	rows, err := query[LedgerEventRow](ctx, r.conn, "LedgerEvents", fmt.Sprintf(`
		SELECT ledger_id, sequence, event_type, occurred_ts, payload
		FROM %s
		WHERE ledger_id = @ledger_id
		ORDER BY sequence
	`, r.conn.table(ledgerEventsTable)), []bigquery.QueryParameter{
		{Name: "ledger_id", Value: ledgerID},
	})
	if err != nil {
		return nil, err
	}

	records := make([]ledger.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromEventRow(row))
	}
	return records, nil
}

var _ ledger.Repository = (*LedgerRepository)(nil)
