// Package migrations embeds the BigQuery schema migrations applied by
// cmd/migrate.
package migrations

import "embed"

// BigQuery holds bigquery/NNNN_name.sql. Files may use the {{PROJECT_ID}}
// and {{DATASET_ID}} placeholders.
//
//go:embed bigquery/*.sql
var BigQuery embed.FS
