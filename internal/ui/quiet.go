package ui

import "github.com/bamsammich/cellar/internal/stats"

// quietPresenter drains events and prints nothing but failures in the
// summary.
type quietPresenter struct {
	stats  *stats.Collector
	failed int
}

func (p *quietPresenter) Run(events <-chan Event) error {
	for ev := range events {
		if ev.Type == Failed {
			p.failed++
		}
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	if p.failed == 0 {
		return ""
	}
	return completionSummary(p.stats.Snapshot(), p.failed)
}
