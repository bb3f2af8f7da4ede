package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/cashflow-ledger/internal/config"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/dvloznov/cashflow-ledger/migrations"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	projectID := flag.String("project", "", "GCP project ID (default: storage.project_id)")
	datasetID := flag.String("dataset", "", "BigQuery dataset ID (default: storage.dataset)")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dir := flag.String("migrations", "", "Directory with NNNN_name.sql files (default: embedded)")
	dryRun := flag.Bool("dry-run", false, "List pending migrations without applying them")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewFromConfig(cfg.Log.Level, true, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}

	if *projectID == "" {
		*projectID = cfg.Storage.ProjectID
	}
	if *datasetID == "" {
		*datasetID = cfg.Storage.Dataset
	}
	if *projectID == "" {
		log.Fatal().Msg("-project flag or LEDGER_STORAGE_PROJECT_ID is required")
	}

	var source fs.FS
	if *dir != "" {
		source = os.DirFS(*dir)
	} else if source, err = fs.Sub(migrations.BigQuery, "bigquery"); err != nil {
		log.Fatal().Err(err).Msg("Failed to open embedded migrations")
	}

	if err := run(context.Background(), log, source, *projectID, *datasetID, *appliedBy, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, log zerolog.Logger, source fs.FS, projectID, datasetID, appliedBy string, dryRun bool) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("create BigQuery client: %w", err)
	}
	defer client.Close()

	m := &migrator{client: client, project: projectID, dataset: datasetID, appliedBy: appliedBy}
	log.Info().Str("project", projectID).Str("dataset", datasetID).Msg("Connected to BigQuery")

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	all, err := readMigrations(source, projectID, datasetID, log)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	log.Info().Int("files", len(all)).Int("applied", len(applied)).Msg("Loaded migrations")

	pending, err := pendingMigrations(all, applied)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return nil
	}

	for _, migration := range pending {
		mlog := log.With().Int("version", migration.Version).Str("name", migration.Name).Logger()
		if dryRun {
			mlog.Info().Msg("[DRY RUN] Would apply migration")
			continue
		}

		mlog.Info().Msg("Applying migration")
		if err := m.exec(ctx, migration.SQL, nil); err != nil {
			return fmt.Errorf("execute migration %04d_%s: %w", migration.Version, migration.Name, err)
		}
		if err := m.recordMigration(ctx, migration); err != nil {
			return fmt.Errorf("record migration %04d_%s: %w", migration.Version, migration.Name, err)
		}
		mlog.Info().Msg("Migration applied")
	}

	log.Info().Int("count", len(pending)).Bool("dry_run", dryRun).Msg("Migrations done")
	return nil
}

// readMigrations reads all NNNN_name.sql files from source, sorted by
// version, with placeholders replaced. The checksum covers the file as
// written so that it does not depend on the target dataset.
func readMigrations(source fs.FS, projectID, datasetID string, log zerolog.Logger) ([]Migration, error) {
	files, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := fs.ReadFile(source, file.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		out = append(out, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// pendingMigrations returns the migrations not yet applied. An applied
// migration whose file has changed since is an error.
func pendingMigrations(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range all {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s was modified after being applied (checksum %s, file %s)",
				m.Version, m.Name, am.Checksum, m.Checksum)
		}
	}
	return pending, nil
}

type migrator struct {
	client    *bigquery.Client
	project   string
	dataset   string
	appliedBy string
}

func (m *migrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", m.project, m.dataset)
}

func (m *migrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := m.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func (m *migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	return m.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.table()), nil)
}

// getAppliedMigrations retrieves the list of already applied migrations
func (m *migrator) getAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	query := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.table()))

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func (m *migrator) recordMigration(ctx context.Context, migration Migration) error {
	return m.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.table()), []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	})
}
