package ui

import "github.com/bamsammich/cellar/internal/event"

// Event is the progress notification presenters consume.
type Event = event.Event

// Re-export event types for convenience.
const (
	ScanStarted    = event.ScanStarted
	ScanComplete   = event.ScanComplete
	FileSkipped    = event.FileSkipped
	PayloadStored  = event.PayloadStored
	FileRestored   = event.FileRestored
	FileDeleted    = event.FileDeleted
	StateCommitted = event.StateCommitted
	StateRestored  = event.StateRestored
	EntryArchived  = event.EntryArchived
	EntryExtracted = event.EntryExtracted
	Progress       = event.Progress
	Failed         = event.Failed
)
