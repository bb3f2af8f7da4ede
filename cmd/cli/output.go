package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

// printer writes colored, human-oriented command output.
type printer struct {
	w io.Writer
}

func (p printer) header(text string) {
	line := strings.Repeat("=", 60)
	green.Fprintf(p.w, "\n%s\n%s\n%s\n", line, text, line)
}

func (p printer) success(format string, args ...interface{}) {
	green.Fprintf(p.w, "  → "+format+"\n", args...)
}

func (p printer) info(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "  → "+format+"\n", args...)
}

func (p printer) warning(format string, args ...interface{}) {
	yellow.Fprintf(p.w, "  ⚠ "+format+"\n", args...)
}

func (p printer) field(name string, value interface{}) {
	bold.Fprintf(p.w, "%-22s", name+":")
	fmt.Fprintf(p.w, " %v\n", value)
}

func (p printer) ledger(l *ledger.Ledger) {
	p.header("Ledger " + l.Name)
	p.field("ID", l.ID)
	p.field("Status", statusColor(string(l.Status)))
	p.field("Currency", l.Currency)
	p.field("Periods", fmt.Sprintf("%s → %s", l.StartPeriod, l.ActivePeriod))
	p.field("Initial balance", l.InitialBalance)
	p.field("Calculated balance", l.CalculatedBalance())
	p.field("Bank balance", l.BankAccount.Balance)
	p.field("Entries", l.EntryCount())
	p.field("Categories", l.CategoryCount())
	if l.Attestation != nil {
		p.field("Attested difference", l.Attestation.Difference)
	}
}

func (p printer) session(s staging.Session) {
	p.field("Session", s.ID)
	p.field("Status", statusColor(string(s.Status)))
	p.field("Rows", fmt.Sprintf("%d total, %d valid, %d invalid, %d duplicate", s.Total, s.Valid, s.Invalid, s.Duplicate))
	if s.SourceFile != "" {
		p.field("Source", s.SourceFile)
	}
	p.field("Expires", s.ExpiresAt.Format("2006-01-02 15:04 MST"))
}

func (p printer) job(j *jobs.ImportJob) {
	p.field("Job", j.ID)
	p.field("Status", statusColor(string(j.Status)))
	p.field("Session", j.StagingSessionID)
	p.field("Imported", j.Result.TransactionsImported)
	p.field("Categories created", j.Result.CategoriesCreated)
	p.field("Skipped", j.Result.Skipped)
	if n := j.Result.ErrorCount(); n > 0 {
		p.field("Row errors", red.Sprint(n))
		for _, e := range j.Result.Errors {
			p.warning("row %d: %s (%s)", e.RowNumber, e.Message, e.Reason)
		}
	}
	if !j.Rollback.Deadline.IsZero() && !j.Rollback.RolledBack {
		p.field("Rollback until", j.Rollback.Deadline.Format("2006-01-02 15:04 MST"))
	}
	if j.Error != "" {
		p.field("Error", red.Sprint(j.Error))
	}
}

func statusColor(status string) string {
	switch status {
	case "OPEN", "READY_FOR_IMPORT", "COMPLETED", "FINALIZED":
		return green.Sprint(status)
	case "ALL_INVALID", "FAILED":
		return red.Sprint(status)
	default:
		return yellow.Sprint(status)
	}
}
