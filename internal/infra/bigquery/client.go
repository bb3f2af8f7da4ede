// Package bigquery implements the durable repositories on Google BigQuery.
// Aggregates are stored as JSON payload columns next to the columns used
// for filtering; every write is a DML statement so rows are immediately
// updatable (streaming inserts are not).
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Table names.
const (
	ledgerSnapshotsTable = "ledger_snapshots"
	ledgerEventsTable    = "ledger_events"
	stagedRowsTable      = "staged_rows"
	mappingsTable        = "category_mappings"
	importJobsTable      = "import_jobs"
)

// Conn is a BigQuery client bound to one dataset. Repositories built from
// the same Conn share the client.
type Conn struct {
	client  *bigquery.Client
	project string
	dataset string
}

// Connect creates a client for projectID using Application Default
// Credentials.
func Connect(ctx context.Context, projectID, datasetID string) (*Conn, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Connect: bigquery client: %w", err)
	}
	return &Conn{client: client, project: projectID, dataset: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (c *Conn) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Client exposes the underlying client for the migration runner.
func (c *Conn) Client() *bigquery.Client {
	return c.client
}

// table returns the fully qualified, backquoted table name.
func (c *Conn) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset, name)
}

// exec runs a DML statement or script and returns the affected row count.
func (c *Conn) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := c.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: run query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: wait for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// query runs a SELECT and scans every row into T.
func query[T any](ctx context.Context, c *Conn, op, sql string, params []bigquery.QueryParameter) ([]T, error) {
	q := c.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var rows []T
	for {
		var r T
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}
