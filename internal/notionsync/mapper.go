package notionsync

import (
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/jomei/notionapi"
)

// Database property names.
const (
	PropName        = "Name"
	PropEntryID     = "Entry ID"
	PropLedgerID    = "Ledger ID"
	PropDate        = "Date"
	PropAmount      = "Amount"
	PropCurrency    = "Currency"
	PropDirection   = "Direction"
	PropCategory    = "Category"
	PropKind        = "Kind"
	PropImportJob   = "Import Job"
	PropSourceTxn   = "Source Transaction ID"
	PropDescription = "Notes"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

// EntryToNotionProperties maps a committed entry to database properties.
// Amount is signed: inflows positive, outflows negative.
func EntryToNotionProperties(l *ledger.Ledger, e *ledger.Entry) notionapi.Properties {
	amount, _ := e.Signed().Float64()
	paid := notionapi.Date(e.PaidDate)

	props := notionapi.Properties{
		PropName:      notionapi.TitleProperty{Title: richText(e.Name)},
		PropEntryID:   notionapi.RichTextProperty{RichText: richText(e.ID)},
		PropLedgerID:  notionapi.RichTextProperty{RichText: richText(l.ID)},
		PropDate:      notionapi.DateProperty{Date: &notionapi.DateObject{Start: &paid}},
		PropAmount:    notionapi.NumberProperty{Number: amount},
		PropCurrency:  notionapi.SelectProperty{Select: notionapi.Option{Name: e.Money.Currency}},
		PropDirection: notionapi.SelectProperty{Select: notionapi.Option{Name: string(e.Direction)}},
		PropKind:      notionapi.SelectProperty{Select: notionapi.Option{Name: string(e.Kind)}},
	}

	if tree := l.Tree(e.Direction); tree != nil {
		if path := tree.Path(e.CategoryID); path != "" {
			props[PropCategory] = notionapi.RichTextProperty{RichText: richText(path)}
		}
	}
	if e.ImportJobID != "" {
		props[PropImportJob] = notionapi.RichTextProperty{RichText: richText(e.ImportJobID)}
	}
	if e.SourceTransactionID != "" {
		props[PropSourceTxn] = notionapi.RichTextProperty{RichText: richText(e.SourceTransactionID)}
	}
	if e.Description != "" {
		props[PropDescription] = notionapi.RichTextProperty{RichText: richText(e.Description)}
	}
	return props
}

// plainText reads a rich text property from a queried page.
func plainText(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name]
	if !ok {
		return ""
	}
	rt, ok := prop.(*notionapi.RichTextProperty)
	if !ok || len(rt.RichText) == 0 {
		return ""
	}
	if rt.RichText[0].PlainText != "" {
		return rt.RichText[0].PlainText
	}
	if rt.RichText[0].Text != nil {
		return rt.RichText[0].Text.Content
	}
	return ""
}
