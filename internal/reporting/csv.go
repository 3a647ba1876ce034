package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders report rows as CSV string.
func RenderCSV(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("entity,kind,user,shares,points,shards\n")

	// Rows
	for _, row := range r.Rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s\n",
			row.Entity, row.Kind, row.User, row.Shares, row.Points, row.Shards))
	}

	return sb.String()
}
