// Package notionsync mirrors a ledger's committed entries into a Notion
// database, one page per entry.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/jomei/notionapi"
)

// BatchSize is the page size used when querying the database.
const BatchSize = 100

// Options controls a sync run.
type Options struct {
	DryRun bool
	// UpdateExisting rewrites properties of pages that already exist.
	UpdateExisting bool
}

// Result counts what a sync run did.
type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// SyncLedger makes the database mirror l's entries. The Entry ID property
// keys pages to entries:
//  1. pages of this ledger whose entry no longer exists (rolled back) or
//     that carry no Entry ID are archived
//  2. entries without a page get one
//  3. entries with a page are skipped unless opts.UpdateExisting is set
//
// A failure on a single page is logged and counted; the run continues.
func SyncLedger(ctx context.Context, l *ledger.Ledger, notionClient NotionService, notionDBID string, opts Options) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("ledger_id", l.ID).Logger()

	log.Info().
		Int("entries", len(l.Entries)).
		Bool("dry_run", opts.DryRun).
		Msg("Starting ledger sync to Notion")

	pages, err := queryLedgerPages(ctx, notionClient, notionDBID, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query Notion pages: %w", err)
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	res := &Result{}
	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		entryID := plainText(page, PropEntryID)
		_, live := l.Entries[entryID]
		if entryID != "" && live {
			if _, dup := existing[entryID]; !dup {
				existing[entryID] = string(page.ID)
				continue
			}
		}

		if opts.DryRun {
			log.Info().Str("entry_id", entryID).Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := notionClient.ArchivePage(ctx, string(page.ID)); err != nil {
			log.Warn().Err(err).Str("entry_id", entryID).Str("page_id", string(page.ID)).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	for _, e := range l.SortedEntries() {
		pageID, found := existing[e.ID]
		if found && !opts.UpdateExisting {
			res.Skipped++
			continue
		}
		props := EntryToNotionProperties(l, e)

		if opts.DryRun {
			if found {
				res.Updated++
			} else {
				res.Created++
			}
			continue
		}

		if found {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("entry_id", e.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().Str("entry_id", e.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Ledger sync to Notion completed")
	return res, nil
}

// queryLedgerPages returns every page whose Ledger ID equals ledgerID,
// following pagination cursors.
func queryLedgerPages(ctx context.Context, notionClient NotionService, databaseID, ledgerID string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: &notionapi.PropertyFilter{
				Property: PropLedgerID,
				RichText: &notionapi.TextFilterCondition{Equals: ledgerID},
			},
			PageSize: BatchSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryLedgerPages: %w", err)
		}
		for _, page := range resp.Results {
			if plainText(page, PropLedgerID) == ledgerID {
				pages = append(pages, page)
			}
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}
