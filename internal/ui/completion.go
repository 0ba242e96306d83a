package ui

import (
	"fmt"
	"strings"

	"github.com/bamsammich/cellar/internal/stats"
)

// completionSummary builds a final summary line from a snapshot. Only
// counters that moved are listed.
// Format: done ✓  stored 3  restored 12  size 4.1 MiB  time 2s  errors 0
func completionSummary(snap stats.Snapshot, failed int) string {
	icon := "✓"
	if failed > 0 {
		icon = "✗"
	}

	parts := []string{"done " + icon}
	for _, c := range []struct {
		label string
		n     int64
	}{
		{"scanned", snap.FilesScanned},
		{"stored", snap.PayloadsStored},
		{"restored", snap.FilesRestored},
		{"deleted", snap.FilesDeleted},
		{"archived", snap.EntriesArchived},
		{"extracted", snap.EntriesExtracted},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", c.label, FormatCount(c.n)))
		}
	}

	size := snap.BytesStored + snap.BytesRestored + snap.BytesArchived
	if size > 0 {
		parts = append(parts, "size "+FormatBytes(size))
	}
	parts = append(parts,
		"time "+FormatDuration(snap.Elapsed),
		fmt.Sprintf("errors %d", failed),
	)
	return strings.Join(parts, "  ")
}
