package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/cellar/internal/stats"
)

// plainPresenter prints one line per state change to stdout, per-file
// lines when verbose, and periodic progress to stderr.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
	percent int
	failed  int
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case StateCommitted:
		fmt.Fprintf(p.w, "committed state %s (%d payloads)\n", ev.StateID, ev.Total)
	case StateRestored:
		fmt.Fprintf(p.w, "restored state %s\n", ev.StateID)
	case Failed:
		p.failed++
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s\n", ev.Path, errMsg)
	case Progress:
		p.percent = ev.Percent
	}

	if !p.verbose {
		return
	}
	switch ev.Type {
	case PayloadStored:
		fmt.Fprintf(p.w, "store: %s  %s\n", ev.Path, FormatBytes(ev.Size))
	case FileRestored:
		fmt.Fprintf(p.w, "restore: %s  %s\n", ev.Path, FormatBytes(ev.Size))
	case FileDeleted:
		fmt.Fprintf(p.w, "delete: %s\n", ev.Path)
	case FileSkipped:
		fmt.Fprintf(p.w, "%s  skipped\n", ev.Path)
	case EntryArchived, EntryExtracted:
		fmt.Fprintf(p.w, "%s  %s\n", ev.Path, FormatBytes(ev.Size))
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	moved := snap.BytesStored + snap.BytesRestored + snap.BytesArchived
	switch {
	case p.percent >= 0 && snap.BytesTotal > 0:
		fmt.Fprintf(p.errW, "progress: %d%% %s/%s %s eta %s\n",
			p.percent,
			FormatBytes(moved), FormatBytes(snap.BytesTotal),
			FormatRate(p.stats.RollingSpeed(10)),
			FormatETA(p.stats.ETA()),
		)
	case moved > 0:
		fmt.Fprintf(p.errW, "progress: %s processed\n", FormatBytes(moved))
	}
}

func (p *plainPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot(), p.failed)
}
