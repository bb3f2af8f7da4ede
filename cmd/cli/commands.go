package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/app"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/notionsync"
	"github.com/dvloznov/cashflow-ledger/internal/parser"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func required(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runCreateLedger(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("create-ledger", out)
	name := fs.String("name", "", "Ledger name")
	currency := fs.String("currency", a.Config.Import.DefaultCurrency, "ISO currency code")
	balance := fs.String("initial-balance", "0", "Opening balance at the start period")
	start := fs.String("start", "", "First month to backfill (YYYY-MM)")
	active := fs.String("active", "", "Active month (YYYY-MM)")
	account := fs.String("bank-account", "", "Bank account number")
	owner := fs.String("owner", "", "Owner id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"name": *name, "start": *start, "active": *active}); err != nil {
		return err
	}

	initial, err := decimal.NewFromString(*balance)
	if err != nil {
		return fmt.Errorf("invalid -initial-balance: %w", err)
	}
	startPeriod, err := domain.ParseYearMonth(*start)
	if err != nil {
		return err
	}
	activePeriod, err := domain.ParseYearMonth(*active)
	if err != nil {
		return err
	}

	l, err := a.Ledgers.Create(ctx, ledger.CreateLedger{
		OwnerID:           *owner,
		Name:              *name,
		Currency:          *currency,
		BankAccountNumber: *account,
		InitialBalance:    initial,
		StartPeriod:       startPeriod,
		ActivePeriod:      activePeriod,
	})
	if err != nil {
		return err
	}
	printer{out}.ledger(l)
	return nil
}

func runShow(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("show", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID}); err != nil {
		return err
	}

	l, err := a.Ledgers.Get(ctx, *ledgerID)
	if err != nil {
		return err
	}
	printer{out}.ledger(l)
	return nil
}

func runStage(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("stage", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	file := fs.String("file", "", "Path to a CSV or OFX statement")
	currency := fs.String("currency", a.Config.Import.DefaultCurrency, "Currency for rows that carry none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "file": *file}); err != nil {
		return err
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	filename := filepath.Base(*file)
	p, err := parser.ForFilename(filename, *currency)
	if err != nil {
		return err
	}
	parsed, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return err
	}

	pr := printer{out}
	for _, e := range parsed.Errors {
		pr.warning("row %d skipped: %s", e.RowNumber, e.Message)
	}
	if len(parsed.Rows) == 0 {
		return errors.New("no transactions found in file")
	}

	source := filename
	if a.Archiver != nil {
		if source, err = a.Archiver.Archive(ctx, *ledgerID, filename, data); err != nil {
			return err
		}
	}

	result, err := a.Staging.Stage(ctx, *ledgerID, parsed.Rows, staging.StageOptions{SourceFile: source})
	if err != nil {
		return err
	}
	pr.header(fmt.Sprintf("Staged %d rows from %s (%s)", len(parsed.Rows), filename, p.Name()))
	pr.session(result.Session)
	for _, r := range result.Rows {
		if r.Validation.Status != staging.StatusValid {
			pr.warning("row %d %s: %s", r.RowNumber, r.Validation.Status, r.Validation.Reason)
		}
	}
	return nil
}

func runSessions(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("sessions", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID}); err != nil {
		return err
	}

	sessions, err := a.Staging.ListSessions(ctx, *ledgerID)
	if err != nil {
		return err
	}
	pr := printer{out}
	pr.header(fmt.Sprintf("Staging sessions (%d)", len(sessions)))
	for _, s := range sessions {
		pr.session(s)
		fmt.Fprintln(out)
	}
	return nil
}

func runMappings(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("mappings", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	file := fs.String("file", "", "YAML file with a top-level mappings list; omit to list")
	deleteAll := fs.Bool("delete-all", false, "Delete every mapping of the ledger")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID}); err != nil {
		return err
	}
	if _, err := a.Ledgers.Get(ctx, *ledgerID); err != nil {
		return err
	}
	pr := printer{out}

	switch {
	case *deleteAll:
		n, err := a.Mappings.DeleteAll(ctx, *ledgerID)
		if err != nil {
			return err
		}
		pr.success("Deleted %d mappings", n)
		return nil

	case *file != "":
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		configs, err := mapping.LoadConfigs(f)
		if err != nil {
			return err
		}
		result, err := a.Mappings.Configure(ctx, *ledgerID, configs)
		if err != nil {
			return err
		}
		pr.header(fmt.Sprintf("Mappings: %d created, %d updated, %d rejected", result.Created, result.Updated, result.Rejected))
		for _, r := range result.Results {
			if r.Status == mapping.ResultRejected {
				pr.warning("%s %s: %s", r.Label, r.Direction, r.Reason)
			} else {
				pr.success("%s %s %s", r.Label, r.Direction, r.Status)
			}
		}
		return nil
	}

	ms, err := a.Mappings.List(ctx, *ledgerID)
	if err != nil {
		return err
	}
	pr.header(fmt.Sprintf("Category mappings (%d)", len(ms)))
	for _, m := range ms {
		target := m.TargetCategory
		if m.ParentCategory != "" {
			target = m.ParentCategory + " / " + target
		}
		pr.info("%-20s %-8s %-19s %s", m.Label, m.Direction, m.Action, target)
	}
	return nil
}

func runSuggest(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("suggest", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	sessionID := fs.String("session", "", "Staging session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "session": *sessionID}); err != nil {
		return err
	}
	if a.Suggester == nil {
		return errors.New("mapping suggestions are not configured")
	}

	configs, err := a.Suggester.Suggest(ctx, *ledgerID, *sessionID)
	if err != nil {
		return err
	}
	// Printed in the format the mappings command reads.
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(struct {
		Mappings []mapping.Config `yaml:"mappings"`
	}{configs})
}

func runImport(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("import", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	sessionID := fs.String("session", "", "Staging session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "session": *sessionID}); err != nil {
		return err
	}

	job, err := a.Orchestrator.StartImportJob(ctx, *ledgerID, *sessionID)
	if job != nil {
		pr := printer{out}
		pr.header("Import job")
		pr.job(job)
	}
	return err
}

func runJobs(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("jobs", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	status := fs.String("status", "", "Comma separated statuses to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID}); err != nil {
		return err
	}

	filter := jobs.JobFilter{}
	if *status != "" {
		for _, s := range strings.Split(*status, ",") {
			st, err := jobs.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
			if err != nil {
				return err
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	list, err := a.Orchestrator.ListJobs(ctx, *ledgerID, filter)
	if err != nil {
		return err
	}
	pr := printer{out}
	pr.header(fmt.Sprintf("Import jobs (%d)", len(list)))
	for _, j := range list {
		pr.job(j)
		fmt.Fprintln(out)
	}
	return nil
}

func runFinalize(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("finalize", out)
	jobID := fs.String("job", "", "Import job id")
	deleteMappings := fs.Bool("delete-mappings", false, "Also delete the ledger's category mappings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"job": *jobID}); err != nil {
		return err
	}

	job, err := a.Orchestrator.Finalize(ctx, *jobID, *deleteMappings)
	if err != nil {
		return err
	}
	pr := printer{out}
	if f := job.Finalization; f != nil {
		pr.success("Job %s finalized: %d staging rows and %d mappings deleted", job.ID, f.StagingRowsDeleted, f.MappingsDeleted)
	} else {
		pr.success("Job %s finalized", job.ID)
	}
	return nil
}

func runRollback(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("rollback", out)
	jobID := fs.String("job", "", "Import job id")
	deleteCategories := fs.Bool("delete-categories", false, "Also delete non-reserved categories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"job": *jobID}); err != nil {
		return err
	}

	job, err := a.Orchestrator.Rollback(ctx, *jobID, *deleteCategories)
	if err != nil {
		return err
	}
	pr := printer{out}
	if s := job.Rollback.Summary; s != nil {
		pr.success("Job %s rolled back: %d entries and %d categories deleted", job.ID, s.TransactionsDeleted, s.CategoriesDeleted)
	} else {
		pr.success("Job %s rolled back", job.ID)
	}
	return nil
}

func balanceFlags(fs *flag.FlagSet) (*string, *bool) {
	return fs.String("balance", "", "Confirmed bank balance"),
		fs.Bool("force", false, "Accept a balance that does not reconcile")
}

func runAttest(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("attest", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	balance, force := balanceFlags(fs)
	adjust := fs.Bool("adjust", false, "Book the difference as an adjustment entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "balance": *balance}); err != nil {
		return err
	}
	confirmed, err := decimal.NewFromString(*balance)
	if err != nil {
		return fmt.Errorf("invalid -balance: %w", err)
	}

	l, _, err := a.Ledgers.Execute(ctx, *ledgerID, ledger.AttestHistoricalImport{
		ConfirmedBalance: confirmed,
		Force:            *force,
		CreateAdjustment: *adjust,
	})
	if err != nil {
		return explainReconciliation(out, err)
	}
	printer{out}.ledger(l)
	return nil
}

func runActivate(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("activate", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	balance, force := balanceFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "balance": *balance}); err != nil {
		return err
	}
	confirmed, err := decimal.NewFromString(*balance)
	if err != nil {
		return fmt.Errorf("invalid -balance: %w", err)
	}

	l, _, err := a.Ledgers.Execute(ctx, *ledgerID, ledger.ActivateLedger{ConfirmedBalance: confirmed, Force: *force})
	if err != nil {
		return explainReconciliation(out, err)
	}
	printer{out}.ledger(l)
	return nil
}

func explainReconciliation(out io.Writer, err error) error {
	var re *domain.ReconciliationError
	if errors.As(err, &re) {
		pr := printer{out}
		pr.warning("Confirmed %s, calculated %s, difference %s", re.Confirmed, re.Calculated, re.Difference)
		pr.info("Re-run with -force to accept it or, for attest, -adjust to book an adjustment")
	}
	return err
}

func runRollover(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("rollover", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID}); err != nil {
		return err
	}

	l, _, err := a.Ledgers.Execute(ctx, *ledgerID, ledger.RolloverMonth{})
	if err != nil {
		return err
	}
	printer{out}.success("Ledger %s is now in %s", l.ID, l.ActivePeriod)
	return nil
}

func runSyncNotion(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("sync-notion", out)
	ledgerID := fs.String("ledger", "", "Ledger id")
	token := fs.String("notion-token", a.Config.Notion.Token, "Notion API token")
	dbID := fs.String("notion-db-id", a.Config.Notion.DatabaseID, "Notion database ID")
	dryRun := fs.Bool("dry-run", false, "Preview changes without writing")
	update := fs.Bool("update", false, "Rewrite properties of pages that already exist")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"ledger": *ledgerID, "notion-token": *token, "notion-db-id": *dbID}); err != nil {
		return err
	}

	l, err := a.Ledgers.Get(ctx, *ledgerID)
	if err != nil {
		return err
	}
	result, err := notionsync.SyncLedger(ctx, l, notionsync.NewNotionClient(*token), *dbID, notionsync.Options{
		DryRun:         *dryRun,
		UpdateExisting: *update,
	})
	if err != nil {
		return err
	}
	pr := printer{out}
	pr.success("Created %d, updated %d, archived %d, skipped %d", result.Created, result.Updated, result.Archived, result.Skipped)
	if result.Failed > 0 {
		pr.warning("%d pages failed, see the log", result.Failed)
	}
	return nil
}

func runPurge(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("purge", out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := a.Staging.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	printer{out}.success("Purged %d expired staging rows", n)
	return nil
}
