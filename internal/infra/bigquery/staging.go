package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
)

// StagedRow is one staged transaction. Filter columns are duplicated out
// of the JSON payload.
type StagedRow struct {
	RowID            string     `bigquery:"row_id"`            // REQUIRED
	SessionID        string     `bigquery:"session_id"`        // REQUIRED
	LedgerID         string     `bigquery:"ledger_id"`         // REQUIRED
	RowNumber        int64      `bigquery:"row_number"`        // REQUIRED
	ValidationStatus string     `bigquery:"validation_status"` // REQUIRED
	PaidDate         civil.Date `bigquery:"paid_date"`         // NULLABLE
	ExpiresTS        time.Time  `bigquery:"expires_ts"`        // REQUIRED
	Payload          string     `bigquery:"payload"`           // REQUIRED, JSON
}

func toStagedRow(t *staging.StagedTransaction) (StagedRow, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return StagedRow{}, fmt.Errorf("encode staged row %s: %w", t.ID, err)
	}
	return StagedRow{
		RowID:            t.ID,
		SessionID:        t.SessionID,
		LedgerID:         t.LedgerID,
		RowNumber:        int64(t.RowNumber),
		ValidationStatus: string(t.Validation.Status),
		PaidDate:         civil.DateOf(t.PaidAt),
		ExpiresTS:        t.ExpiresAt,
		Payload:          string(data),
	}, nil
}

func fromStagedRow(row StagedRow) (*staging.StagedTransaction, error) {
	var t staging.StagedTransaction
	if err := json.Unmarshal([]byte(row.Payload), &t); err != nil {
		return nil, fmt.Errorf("decode staged row %s: %w", row.RowID, err)
	}
	return &t, nil
}

// StagingRepository implements staging.Repository.
type StagingRepository struct {
	conn *Conn
}

// NewStagingRepository creates a StagingRepository on conn.
func NewStagingRepository(conn *Conn) *StagingRepository {
	return &StagingRepository{conn: conn}
}

func (r *StagingRepository) encode(rows []*staging.StagedTransaction) ([]StagedRow, error) {
	out := make([]StagedRow, 0, len(rows))
	for _, t := range rows {
		row, err := toStagedRow(t)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// InsertRows inserts a batch with one DML statement.
func (r *StagingRepository) InsertRows(ctx context.Context, rows []*staging.StagedTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := r.encode(rows)
	if err != nil {
		return fmt.Errorf("InsertStagedRows: %w", err)
	}

	_, err = r.conn.exec(ctx, "InsertStagedRows", fmt.Sprintf(`
		INSERT INTO %s (row_id, session_id, ledger_id, row_number, validation_status, paid_date, expires_ts, payload)
		SELECT r.row_id, r.session_id, r.ledger_id, r.row_number, r.validation_status, r.paid_date, r.expires_ts, r.payload
		FROM UNNEST(@rows) AS r
	`, r.conn.table(stagedRowsTable)), []bigquery.QueryParameter{
		{Name: "rows", Value: batch},
	})
	return err
}

// UpdateRows rewrites existing rows matched by row id.
func (r *StagingRepository) UpdateRows(ctx context.Context, rows []*staging.StagedTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := r.encode(rows)
	if err != nil {
		return fmt.Errorf("UpdateStagedRows: %w", err)
	}

	_, err = r.conn.exec(ctx, "UpdateStagedRows", fmt.Sprintf(`
		MERGE %s T
		USING (SELECT * FROM UNNEST(@rows)) S
		ON T.row_id = S.row_id
		WHEN MATCHED THEN
		  UPDATE SET validation_status = S.validation_status, expires_ts = S.expires_ts, payload = S.payload
	`, r.conn.table(stagedRowsTable)), []bigquery.QueryParameter{
		{Name: "rows", Value: batch},
	})
	return err
}

func (r *StagingRepository) selectRows(ctx context.Context, op, column, value string) ([]*staging.StagedTransaction, error) {
	rows, err := query[StagedRow](ctx, r.conn, op, fmt.Sprintf(`
		SELECT row_id, session_id, ledger_id, row_number, validation_status, paid_date, expires_ts, payload
		FROM %s
		WHERE %s = @value
		ORDER BY session_id, row_number
	`, r.conn.table(stagedRowsTable), column), []bigquery.QueryParameter{
		{Name: "value", Value: value},
	})
	if err != nil {
		return nil, err
	}

	out := make([]*staging.StagedTransaction, 0, len(rows))
	for _, row := range rows {
		t, err := fromStagedRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// RowsBySession returns all rows of a session, expired ones included.
func (r *StagingRepository) RowsBySession(ctx context.Context, sessionID string) ([]*staging.StagedTransaction, error) {
	return r.selectRows(ctx, "StagedRowsBySession", "session_id", sessionID)
}

// RowsByLedger returns all rows staged for a ledger, expired ones included.
func (r *StagingRepository) RowsByLedger(ctx context.Context, ledgerID string) ([]*staging.StagedTransaction, error) {
	return r.selectRows(ctx, "StagedRowsByLedger", "ledger_id", ledgerID)
}

// DeleteSession deletes a session's rows and returns how many were removed.
func (r *StagingRepository) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	n, err := r.conn.exec(ctx, "DeleteStagingSession", fmt.Sprintf(`
		DELETE FROM %s
		WHERE session_id = @session_id
	`, r.conn.table(stagedRowsTable)), []bigquery.QueryParameter{
		{Name: "session_id", Value: sessionID},
	})
	return int(n), err
}

// DeleteExpired deletes rows whose expiry is at or before now.
func (r *StagingRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := r.conn.exec(ctx, "DeleteExpiredStagedRows", fmt.Sprintf(`
		DELETE FROM %s
		WHERE expires_ts <= @now
	`, r.conn.table(stagedRowsTable)), []bigquery.QueryParameter{
		{Name: "now", Value: now},
	})
	return int(n), err
}

var _ staging.Repository = (*StagingRepository)(nil)
