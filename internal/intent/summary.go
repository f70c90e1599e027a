package intent

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// DefaultMaxSummaryColumns caps how many columns are described to the capability.
const DefaultMaxSummaryColumns = 20

const summarySamples = 3

// BuildSchemaSummary renders the text block the capability sees:
//
//	Dataset: 120 rows, 4 columns
//	- Revenue (numeric, semantic=revenue, 118 unique, 2 null); samples: 10.5, 99, 4
func BuildSchemaSummary(s schema.DatasetSchema, maxColumns int) string {
	if maxColumns <= 0 {
		maxColumns = DefaultMaxSummaryColumns
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns\n", s.RowCount, s.ColumnCount)
	for i, c := range s.Columns {
		if i == maxColumns {
			fmt.Fprintf(&b, "... (%d more columns not shown)\n", len(s.Columns)-maxColumns)
			break
		}
		fmt.Fprintf(&b, "- %s (%s, semantic=%s, %d unique, %d null)", c.Name, c.DataType, c.SemanticType, c.UniqueCount, c.NullCount)
		if n := len(c.SampleValues); n > 0 {
			if n > summarySamples {
				n = summarySamples
			}
			fmt.Fprintf(&b, "; samples: %s", strings.Join(c.SampleValues[:n], ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
