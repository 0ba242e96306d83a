package ui

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/bamsammich/cellar/internal/stats"
)

// ANSI escape sequences.
const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

const (
	progressBarWidth = 24
	hudMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

// hudPresenter prints state changes as a feed and keeps a one-line
// progress bar redrawn in place beneath it.
type hudPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	title   string
	verbose bool

	percent  int // last Progress event, -1 until one arrives
	failed   int
	hudDrawn bool
	lastDraw time.Time
}

func (p *hudPresenter) Run(events <-chan Event) error {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()
		case <-redrawTicker.C:
			p.drawHUD()
		case <-secTicker.C:
			p.stats.Tick()
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case Progress:
		p.percent = ev.Percent
	case StateCommitted:
		p.feed("✓  committed state %s  %s(%d payloads)%s", ev.StateID, ansiDim, ev.Total, ansiReset)
	case StateRestored:
		p.feed("✓  restored state %s", ev.StateID)
	case Failed:
		p.failed++
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		p.feed("✗  %s  %s", styledPath(ev.Path), errMsg)
	case PayloadStored, FileRestored, EntryArchived, EntryExtracted:
		if p.verbose {
			p.feed("✓  %s  %10s", styledPath(ev.Path), FormatBytes(ev.Size))
		}
	case FileDeleted:
		if p.verbose {
			p.feed("×  %s", styledPath(ev.Path))
		}
	case FileSkipped:
		if p.verbose {
			p.feed("–  %s  %sskipped%s", styledPath(ev.Path), ansiDim, ansiReset)
		}
	}
}

// feed prints a line above the HUD.
func (p *hudPresenter) feed(format string, args ...any) {
	p.clearHUD()
	fmt.Fprintf(p.w, format+"\n", args...)
	p.drawHUD()
}

func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) fraction() float64 {
	if p.percent >= 0 {
		return float64(p.percent) / 100
	}
	snap := p.stats.Snapshot()
	if snap.BytesTotal <= 0 {
		return 0
	}
	moved := snap.BytesStored + snap.BytesRestored + snap.BytesArchived
	return min(float64(moved)/float64(snap.BytesTotal), 1)
}

func (p *hudPresenter) drawHUD() {
	p.clearHUD()
	pct := p.fraction()
	title := p.title
	if title != "" {
		title += "  "
	}
	fmt.Fprintf(p.w, "%s%3.0f%%  %s   %s   eta %s\n",
		title, pct*100, ProgressBar(pct, progressBarWidth),
		FormatRate(p.stats.RollingSpeed(5)), FormatETA(p.stats.ETA()))
	p.hudDrawn = true
	p.lastDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	// Move the cursor up one line and clear to end of screen.
	fmt.Fprint(p.w, "\033[1A\033[J")
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot(), p.failed)
}

// styledPath dims the directory portion so the file name stands out.
func styledPath(p string) string {
	dir, base := path.Split(p)
	if dir == "" {
		return base
	}
	return fmt.Sprintf("%s%s%s%s", ansiDim, dir, ansiReset, base)
}
