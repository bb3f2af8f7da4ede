package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
)

// MappingRow is one category mapping.
type MappingRow struct {
	MappingID string    `bigquery:"mapping_id"` // REQUIRED
	LedgerID  string    `bigquery:"ledger_id"`  // REQUIRED
	LabelKey  string    `bigquery:"label_key"`  // REQUIRED
	Direction string    `bigquery:"direction"`  // REQUIRED
	Action    string    `bigquery:"action"`     // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
	Payload   string    `bigquery:"payload"`    // REQUIRED, JSON
}

func toMappingRow(m *mapping.Mapping) (MappingRow, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return MappingRow{}, fmt.Errorf("encode mapping %s: %w", m.ID, err)
	}
	return MappingRow{
		MappingID: m.ID,
		LedgerID:  m.LedgerID,
		LabelKey:  m.Key,
		Direction: string(m.Direction),
		Action:    string(m.Action),
		UpdatedTS: m.UpdatedAt,
		Payload:   string(data),
	}, nil
}

func fromMappingRow(row MappingRow) (*mapping.Mapping, error) {
	var m mapping.Mapping
	if err := json.Unmarshal([]byte(row.Payload), &m); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", row.MappingID, err)
	}
	return &m, nil
}

// MappingRepository implements mapping.Repository.
type MappingRepository struct {
	conn *Conn
}

// NewMappingRepository creates a MappingRepository on conn.
func NewMappingRepository(conn *Conn) *MappingRepository {
	return &MappingRepository{conn: conn}
}

const mappingColumns = "mapping_id, ledger_id, label_key, direction, action, updated_ts, payload"

func (r *MappingRepository) selectMappings(ctx context.Context, op, where string, params []bigquery.QueryParameter) ([]*mapping.Mapping, error) {
	rows, err := query[MappingRow](ctx, r.conn, op, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY direction, label_key
	`, mappingColumns, r.conn.table(mappingsTable), where), params)
	if err != nil {
		return nil, err
	}

	out := make([]*mapping.Mapping, 0, len(rows))
	for _, row := range rows {
		m, err := fromMappingRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Get returns a mapping by id.
func (r *MappingRepository) Get(ctx context.Context, mappingID string) (*mapping.Mapping, error) {
	out, err := r.selectMappings(ctx, "GetMapping", "mapping_id = @mapping_id", []bigquery.QueryParameter{
		{Name: "mapping_id", Value: mappingID},
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.NotFound("category mapping", mappingID)
	}
	return out[0], nil
}

// Find returns the mapping for a normalized label key, or nil.
func (r *MappingRepository) Find(ctx context.Context, ledgerID, key string, direction domain.FlowDirection) (*mapping.Mapping, error) {
	out, err := r.selectMappings(ctx, "FindMapping",
		"ledger_id = @ledger_id AND label_key = @label_key AND direction = @direction",
		[]bigquery.QueryParameter{
			{Name: "ledger_id", Value: ledgerID},
			{Name: "label_key", Value: key},
			{Name: "direction", Value: string(direction)},
		})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// Upsert inserts or replaces a mapping by id.
func (r *MappingRepository) Upsert(ctx context.Context, m *mapping.Mapping) error {
	row, err := toMappingRow(m)
	if err != nil {
		return fmt.Errorf("UpsertMapping: %w", err)
	}

	_, err = r.conn.exec(ctx, "UpsertMapping", fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @mapping_id AS mapping_id) S
		ON T.mapping_id = S.mapping_id
		WHEN MATCHED THEN
		  UPDATE SET label_key = @label_key, direction = @direction, action = @action,
		             updated_ts = @updated_ts, payload = @payload
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (@mapping_id, @ledger_id, @label_key, @direction, @action, @updated_ts, @payload)
	`, r.conn.table(mappingsTable), mappingColumns), []bigquery.QueryParameter{
		{Name: "mapping_id", Value: row.MappingID},
		{Name: "ledger_id", Value: row.LedgerID},
		{Name: "label_key", Value: row.LabelKey},
		{Name: "direction", Value: row.Direction},
		{Name: "action", Value: row.Action},
		{Name: "updated_ts", Value: row.UpdatedTS},
		{Name: "payload", Value: row.Payload},
	})
	return err
}

// ListByLedger returns a ledger's mappings ordered by direction and key.
func (r *MappingRepository) ListByLedger(ctx context.Context, ledgerID string) ([]*mapping.Mapping, error) {
	return r.selectMappings(ctx, "ListMappings", "ledger_id = @ledger_id", []bigquery.QueryParameter{
		{Name: "ledger_id", Value: ledgerID},
	})
}

// Delete removes one mapping and reports whether it existed.
func (r *MappingRepository) Delete(ctx context.Context, mappingID string) (bool, error) {
	n, err := r.conn.exec(ctx, "DeleteMapping", fmt.Sprintf(`
		DELETE FROM %s
		WHERE mapping_id = @mapping_id
	`, r.conn.table(mappingsTable)), []bigquery.QueryParameter{
		{Name: "mapping_id", Value: mappingID},
	})
	return n > 0, err
}

// DeleteByLedger removes every mapping of a ledger.
func (r *MappingRepository) DeleteByLedger(ctx context.Context, ledgerID string) (int, error) {
	n, err := r.conn.exec(ctx, "DeleteLedgerMappings", fmt.Sprintf(`
		DELETE FROM %s
		WHERE ledger_id = @ledger_id
	`, r.conn.table(mappingsTable)), []bigquery.QueryParameter{
		{Name: "ledger_id", Value: ledgerID},
	})
	return int(n), err
}

var _ mapping.Repository = (*MappingRepository)(nil)
