package suggest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
)

// buildCategoriesPrompt lists the ledger's category trees, one per
// direction, indented by depth.
func buildCategoriesPrompt(l *ledger.Ledger) string {
	var b strings.Builder
	b.WriteString("Existing categories of the ledger:\n\n")

	for _, dir := range []domain.FlowDirection{domain.Inflow, domain.Outflow} {
		tree := l.Tree(dir)
		if tree == nil {
			continue
		}
		b.WriteString(string(dir) + ":\n")
		var paths []string
		for _, c := range tree.List() {
			if c.Archived {
				continue
			}
			paths = append(paths, tree.Path(c.ID))
		}
		sort.Strings(paths)
		for _, p := range paths {
			b.WriteString("  - " + p + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// buildSuggestionPrompt asks for one mapping decision per bank label.
func buildSuggestionPrompt(l *ledger.Ledger, labels []labelRequest) string {
	var b strings.Builder
	b.WriteString("You help a user map the category labels of their bank export onto the categories of a personal cash-flow ledger.\n\n")
	b.WriteString(buildCategoriesPrompt(l))

	b.WriteString("Bank labels to map (label, direction, example transaction names):\n")
	for _, req := range labels {
		fmt.Fprintf(&b, "- %q %s", req.Label, req.Direction)
		if len(req.Examples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(req.Examples, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOutput a JSON array with exactly one object per bank label. Each object has:\n")
	b.WriteString("- \"label\": string, the bank label exactly as given\n")
	b.WriteString("- \"direction\": \"INFLOW\" or \"OUTFLOW\", as given\n")
	b.WriteString("- \"action\": one of \"USE_EXISTING\", \"CREATE_SUBCATEGORY\", \"SKIP\"\n")
	b.WriteString("- \"target\": category name (for CREATE_SUBCATEGORY the new subcategory name)\n")
	b.WriteString("- \"parent\": parent category name or \"\"\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("1. USE_EXISTING targets must be a category listed above for the same direction.\n")
	b.WriteString("2. Prefer CREATE_SUBCATEGORY under an existing top-level category over inventing a new top-level one.\n")
	b.WriteString("3. Use SKIP only for internal transfers between the user's own accounts.\n")
	b.WriteString("4. If you are unsure, use USE_EXISTING with target \"" + ledger.UncategorizedName + "\".\n\n")

	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}
