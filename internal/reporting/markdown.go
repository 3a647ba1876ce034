package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Points Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("As of: %s (%d)\n\n", time.Unix(r.AsOf, 0).UTC().Format(time.RFC3339), r.AsOf))
	if r.User != "" {
		sb.WriteString(fmt.Sprintf("User: `%s`\n\n", r.User))
	}

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Rows | %d |\n", len(r.Rows)))
	sb.WriteString(fmt.Sprintf("| Total Points | %s |\n", r.TotalPoints))
	sb.WriteString(fmt.Sprintf("| Points Decimals | %d |\n", r.Decimals))
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Rows) > 0 {
		sb.WriteString("| Entity | Kind | User | Shares | Points | Shards |\n")
		sb.WriteString("|--------|------|------|--------|--------|--------|\n")
		for _, row := range r.Rows {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | `%s` | %s | %s | %s |\n",
				row.Entity, row.Kind, row.User, row.Shares, row.Points, row.Shards))
		}
	} else {
		sb.WriteString("No positions.\n")
	}
	sb.WriteString("\n")

	// Verification
	if v := r.Verification; v != nil {
		sb.WriteString("## Verification\n\n")
		sb.WriteString(fmt.Sprintf("Markets: %d | Vaults: %d | Positions: %d | Transactions: %d\n\n",
			v.Markets, v.Vaults, v.Positions, v.Transactions))
		if v.OK() {
			sb.WriteString("**All checks passed.**\n\n")
		} else {
			sb.WriteString("| Check | Entity | Field | Expected | Actual |\n")
			sb.WriteString("|-------|--------|-------|----------|--------|\n")
			for _, issue := range v.Issues {
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
					issue.Check, issue.Entity, issue.Field, issue.Expected, issue.Actual))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
