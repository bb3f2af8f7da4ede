package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/app"
	"github.com/dvloznov/cashflow-ledger/internal/config"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
)

// command runs against an initialized application. args excludes the
// command name.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app.App, args []string, out io.Writer) error
}

var commands = []command{
	{"create-ledger", "Create a ledger in SETUP", runCreateLedger},
	{"show", "Show a ledger", runShow},
	{"stage", "Parse a CSV/OFX statement and stage its rows", runStage},
	{"sessions", "List a ledger's staging sessions", runSessions},
	{"mappings", "Apply category mappings from a YAML file, or list them", runMappings},
	{"suggest", "Ask Gemini for mappings of a session's unmapped labels", runSuggest},
	{"import", "Import a staging session into a ledger", runImport},
	{"jobs", "List a ledger's import jobs", runJobs},
	{"finalize", "Finalize a completed import job", runFinalize},
	{"rollback", "Roll back a completed import job", runRollback},
	{"attest", "Attest the historical import balance", runAttest},
	{"activate", "Move a ledger from SETUP to OPEN", runActivate},
	{"rollover", "Close the active month of an OPEN ledger", runRollover},
	{"sync-notion", "Mirror a ledger's entries into a Notion database", runSyncNotion},
	{"purge", "Remove expired staging rows", runPurge},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := findCommand(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFromConfig(cfg.Log.Level, true, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := cmd.run(ctx, a, os.Args[2:], os.Stdout); err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Cash-flow ledger CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  cli <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nSettings come from LEDGER_* environment variables, .env or LEDGER_CONFIG.")
	fmt.Fprintln(w, "Run 'cli <command> -h' for more information on a command.")
}
