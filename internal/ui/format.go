package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/cellar/internal/stats"
)

// FormatRate formats a bytes-per-second rate with binary units, keeping
// roughly three significant digits.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	units := []string{"B/s", "KiB/s", "MiB/s", "GiB/s", "TiB/s"}
	val := bytesPerSec
	for _, u := range units {
		if val < 1024 {
			switch {
			case u == "B/s" || val >= 100:
				return fmt.Sprintf("%.0f %s", val, u)
			case val >= 10:
				return fmt.Sprintf("%.1f %s", val, u)
			default:
				return fmt.Sprintf("%.2f %s", val, u)
			}
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f PiB/s", val)
}

// FormatETA formats a remaining duration; unknown or zero is "--".
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return FormatDuration(d)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatTimestamp renders a state time in the local zone, or "-" when unset.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// ProgressBar renders a progress bar of the given width using ▪/□ characters.
func ProgressBar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac = max(0, min(frac, 1))
	filled := min(int(frac*float64(width)), width)
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}

// FormatBytes wraps stats.FormatBytes for UI use.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}
