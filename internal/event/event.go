// Package event carries progress notifications from the versioning,
// archive and backup layers to whatever presents them.
package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	FileSkipped
	PayloadStored
	FileRestored
	FileDeleted
	StateCommitted
	StateRestored
	EntryArchived
	EntryExtracted
	Progress
	Failed
)

var typeNames = [...]string{
	ScanStarted:    "ScanStarted",
	ScanComplete:   "ScanComplete",
	FileSkipped:    "FileSkipped",
	PayloadStored:  "PayloadStored",
	FileRestored:   "FileRestored",
	FileDeleted:    "FileDeleted",
	StateCommitted: "StateCommitted",
	StateRestored:  "StateRestored",
	EntryArchived:  "EntryArchived",
	EntryExtracted: "EntryExtracted",
	Progress:       "Progress",
	Failed:         "Failed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress notification.
type Event struct {
	Timestamp time.Time
	Error     error
	Path      string // relative path
	StateID   string
	Size      int64 // entry size or bytes-so-far
	Total     int64 // entry count (ScanComplete)
	TotalSize int64 // bytes (ScanComplete)
	Percent   int   // Progress only, 0..100
	Type      Type
}

// Sink delivers events without ever blocking the producer. A nil Sink
// drops everything.
type Sink chan<- Event

// Emit stamps e and offers it to the sink, dropping it if the consumer is
// behind.
func (s Sink) Emit(e Event) {
	if s == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case s <- e:
	default:
	}
}
